package evaluate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/search"
)

// QueryBuilder renders the search request for a set of parameters.
type QueryBuilder interface {
	Payload(ctx context.Context, params search.Parameters) (search.M, error)
}

// QueryBuilderFunc adapts a function to QueryBuilder.
type QueryBuilderFunc func(ctx context.Context, params search.Parameters) (search.M, error)

func (f QueryBuilderFunc) Payload(ctx context.Context, params search.Parameters) (search.M, error) {
	return f(ctx, params)
}

// RankEval scores judged queries with the cluster's own _rank_eval API
// (normalized dcg at 10).
type RankEval struct {
	http            *req.Client
	builder         QueryBuilder
	govukIndex      string
	governmentIndex string
	ABTests         map[string]string
}

// NewRankEval talks to the cluster at baseURL. Links under /government/ are
// rated in governmentIndex, everything else in govukIndex.
func NewRankEval(baseURL string, builder QueryBuilder, govukIndex, governmentIndex string) *RankEval {
	return &RankEval{
		// rank evaluation is much slower than a search
		http:            req.C().SetBaseURL(baseURL).SetTimeout(5 * time.Minute),
		builder:         builder,
		govukIndex:      govukIndex,
		governmentIndex: governmentIndex,
	}
}

type RankEvalResult struct {
	Score       float64            `json:"score"`
	QueryScores map[string]float64 `json:"query_scores"`
}

func (r *RankEval) Evaluate(ctx context.Context, judgements []Judgement) (*RankEvalResult, error) {
	byQuery := map[string][]Judgement{}
	var queries []string
	for _, j := range judgements {
		if _, ok := byQuery[j.Query]; !ok {
			queries = append(queries, j.Query)
		}
		byQuery[j.Query] = append(byQuery[j.Query], j)
	}

	requests := make([]search.M, 0, len(queries))
	for _, q := range queries {
		payload, err := r.builder.Payload(ctx, search.Parameters{Query: q, ABTests: r.ABTests})
		if err != nil {
			return nil, fmt.Errorf("failed to build query %q: %w", q, err)
		}
		request := search.M{"query": payload["query"]}
		if pf, ok := payload["post_filter"]; ok {
			request["post_filter"] = pf
		}

		ratings := make([]search.M, 0, len(byQuery[q]))
		for _, j := range byQuery[q] {
			ratings = append(ratings, search.M{
				"_index": r.indexFor(j.Link),
				"_id":    j.Link,
				"rating": j.Score,
			})
		}
		requests = append(requests, search.M{"id": q, "request": request, "ratings": ratings})
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(search.M{
			"requests": requests,
			"metric":   search.M{"dcg": search.M{"k": 10, "normalize": true}},
		}).
		Post("/*/_rank_eval")
	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("rank eval returned %d: %s", resp.StatusCode, resp.String())
	}

	body := resp.String()
	result := &RankEvalResult{
		Score:       gjson.Get(body, "metric_score").Float(),
		QueryScores: map[string]float64{},
	}
	gjson.Get(body, "details").ForEach(func(query, detail gjson.Result) bool {
		result.QueryScores[query.String()] = detail.Get("metric_score").Float()
		return true
	})
	return result, nil
}

func (r *RankEval) indexFor(link string) string {
	if strings.HasPrefix(link, "/government/") {
		return r.governmentIndex
	}
	return r.govukIndex
}
