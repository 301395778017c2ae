package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/elastic"
)

// BetIndex is the side index holding best bet definitions.
type BetIndex interface {
	RawSearch(ctx context.Context, payload []byte) (*elastic.SearchResult, error)
	AnalyzedBestBetQuery(ctx context.Context, query string) (string, error)
}

// Checker finds the best and worst bets that apply to a query.
type Checker struct {
	index BetIndex
	cache *cache.Cache
}

// NewChecker caches lookups for ttl, or for the life of the process when
// ttl is not positive.
func NewChecker(index BetIndex, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Checker{index: index, cache: cache.New(ttl, 10*time.Minute)}
}

type bet struct {
	Link     string `json:"link"`
	Position int    `json:"position"`
}

type betDetails struct {
	BestBets  []bet `json:"best_bets"`
	WorstBets []bet `json:"worst_bets"`
}

type candidate struct {
	matchType string
	details   betDetails
}

func (c *Checker) Lookup(ctx context.Context, query string) (Bets, error) {
	if strings.TrimSpace(query) == "" {
		return Bets{}, nil
	}
	if v, ok := c.cache.Get(query); ok {
		return v.(Bets), nil
	}

	candidates, err := c.fetch(ctx, query)
	if err != nil {
		return Bets{}, err
	}
	best, worst := selectBets(candidates)
	bets := Bets{Best: combineBest(best), Worst: combineWorst(worst)}

	c.cache.Set(query, bets, cache.DefaultExpiration)
	return bets, nil
}

func lookupPayload(query string) M {
	return M{
		"query": M{
			"bool": M{
				"should": []M{
					{"match": M{"exact_query": query}},
					{"match": M{"stemmed_query": query}},
				},
			},
		},
		"post_filter": M{
			"bool": M{"must": M{"match": M{"document_type": "best_bet"}}},
		},
		"size":    1000,
		"_source": M{"includes": []string{"details", "stemmed_query_as_term"}},
	}
}

func (c *Checker) fetch(ctx context.Context, query string) ([]candidate, error) {
	analyzed, err := c.index.AnalyzedBestBetQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze best bet query: %w", err)
	}
	analyzed = " " + analyzed + " "

	body, err := json.Marshal(lookupPayload(query))
	if err != nil {
		return nil, err
	}
	res, err := c.index.RawSearch(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch best bets: %w", err)
	}

	var out []candidate
	for _, hit := range res.Hits.Hits {
		// the stemmed_query match is broad, keep only bets whose stemmed
		// query occurs in the user's analyzed query
		term := first(gjson.GetBytes(hit.Source, "stemmed_query_as_term"))
		if term.Exists() && !strings.Contains(analyzed, term.String()) {
			continue
		}

		var details betDetails
		raw := first(gjson.GetBytes(hit.Source, "details")).String()
		if err := json.Unmarshal([]byte(raw), &details); err != nil {
			slog.Warn("skipping malformed best bet", "id", hit.ID, "err", err.Error())
			continue
		}

		_, matchType := splitLast(hit.ID, "-")
		out = append(out, candidate{matchType: matchType, details: details})
	}
	return out, nil
}

// selectBets prefers an exact bet over all stemmed ones.
func selectBets(candidates []candidate) (best, worst []bet) {
	for _, c := range candidates {
		if c.matchType == "exact" {
			return c.details.BestBets, c.details.WorstBets
		}
	}
	for _, c := range candidates {
		best = append(best, c.details.BestBets...)
		worst = append(worst, c.details.WorstBets...)
	}
	return best, worst
}

// combineBest groups links by position. A link listed more than once is kept
// at its best (smallest) position only.
func combineBest(bets []bet) map[int][]string {
	sorted := append([]bet(nil), bets...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].Link < sorted[j].Link
	})

	seen := map[string]bool{}
	out := map[int][]string{}
	for _, b := range sorted {
		if seen[b.Link] {
			continue
		}
		seen[b.Link] = true
		out[b.Position] = append(out[b.Position], b.Link)
	}
	return out
}

func combineWorst(bets []bet) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range bets {
		if !seen[b.Link] {
			seen[b.Link] = true
			out = append(out, b.Link)
		}
	}
	return out
}

func first(r gjson.Result) gjson.Result {
	if r.IsArray() {
		return r.Get("0")
	}
	return r
}

// splitLast splits s around the last occurrence of sep.
func splitLast(s, sep string) (string, string) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+len(sep):]
}
