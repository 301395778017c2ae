// Package evaluate measures ranking quality against graded relevance
// judgements.
package evaluate

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/moonwalker/searchindex/pkg/search"
)

// Cutoffs are the ranks NDCG is reported at.
var Cutoffs = []int{1, 3, 5, 10, 20}

const (
	resultsPerQuery = 20

	DefaultAttempts = 3
	DefaultBackoff  = 5 * time.Second
)

type Judgement struct {
	Query string
	Link  string
	Score int
}

// Scores holds one value per cutoff.
type Scores map[int]float64

func zeroScores() Scores {
	s := make(Scores, len(Cutoffs))
	for _, k := range Cutoffs {
		s[k] = 0
	}
	return s
}

type Report struct {
	Queries map[string]Scores `json:"queries"`
	Average Scores            `json:"average_ndcg"`
}

type Searcher interface {
	Run(ctx context.Context, params search.Parameters) (*search.ResultSet, error)
}

// NDCG runs every judged query against live search and scores the
// ranking.
type NDCG struct {
	Searcher Searcher
	Attempts int
	Backoff  time.Duration
	ABTests  map[string]string
}

func New(searcher Searcher) *NDCG {
	return &NDCG{Searcher: searcher, Attempts: DefaultAttempts, Backoff: DefaultBackoff}
}

func (n *NDCG) Compute(ctx context.Context, judgements []Judgement) Report {
	byQuery := map[string]map[string]int{}
	var queries []string
	for _, j := range judgements {
		if _, ok := byQuery[j.Query]; !ok {
			byQuery[j.Query] = map[string]int{}
			queries = append(queries, j.Query)
		}
		byQuery[j.Query][j.Link] = j.Score
	}

	report := Report{Queries: make(map[string]Scores, len(queries)), Average: zeroScores()}
	if len(queries) == 0 {
		return report
	}

	for _, q := range queries {
		ratings := orderedRatings(n.links(ctx, q), byQuery[q])
		scores := make(Scores, len(Cutoffs))
		for _, k := range Cutoffs {
			scores[k] = ndcgAt(ratings, k)
			report.Average[k] += scores[k]
		}
		report.Queries[q] = scores
	}
	for _, k := range Cutoffs {
		report.Average[k] /= float64(len(queries))
	}
	return report
}

// links returns the top result links for a query. A query that keeps failing
// counts as having no results.
func (n *NDCG) links(ctx context.Context, query string) []string {
	params := search.Parameters{
		Query:        query,
		Count:        resultsPerQuery,
		ReturnFields: []string{"link"},
		ABTests:      n.ABTests,
	}

	attempts := max(n.Attempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		set, err := n.Searcher.Run(ctx, params)
		if err == nil {
			out := make([]string, 0, len(set.Results))
			for _, r := range set.Results {
				out = append(out, r.Link)
			}
			return out
		}

		slog.Warn("evaluation search failed",
			"err", err.Error(),
			"query", query,
			"attempt", attempt,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(n.Backoff):
		}
	}
	return nil
}

// orderedRatings maps ranked links to their judged scores, skipping
// unjudged links.
func orderedRatings(links []string, judged map[string]int) []int {
	var out []int
	for _, link := range links {
		if score, ok := judged[link]; ok {
			out = append(out, score)
		}
	}
	return out
}

func ndcgAt(ratings []int, k int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	return dcg(ratings, k) / idcg(ratings, k)
}

// idcg is the dcg of the ideal ordering, floored at 1.
func idcg(ratings []int, k int) float64 {
	ideal := append([]int(nil), ratings...)
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))
	score := dcg(ideal, k)
	if score <= 0 {
		return 1
	}
	return score
}

// dcg sums (2^score - 1) / log2(position + 2) over the first k ratings,
// position counting from 0.
func dcg(ratings []int, k int) float64 {
	var total float64
	for i, r := range ratings {
		if i >= k {
			break
		}
		total += (math.Pow(2, float64(r)) - 1.0) / math.Log2(float64(i)+2.0)
	}
	return total
}
