package evaluate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/search"
)

const rankEvalResponse = `{
  "metric_score": 0.5,
  "details": {
    "harry potter": {"metric_score": 1, "unrated_docs": [], "hits": []},
    "passport": {"metric_score": 0, "unrated_docs": [], "hits": []}
  }
}`

func TestRankEval(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/*/_rank_eval", r.URL.Path)
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(rankEvalResponse))
	}))
	defer srv.Close()

	builder := QueryBuilderFunc(func(_ context.Context, p search.Parameters) (search.M, error) {
		return search.M{
			"query":       search.M{"match": search.M{"title": p.Query}},
			"post_filter": search.M{"term": search.M{"format": "guide"}},
			"size":        10,
		}, nil
	})
	r := NewRankEval(srv.URL, builder, "govuk-2024", "government-2024")

	result, err := r.Evaluate(context.Background(), []Judgement{
		{Query: "harry potter", Link: "/harry-potter", Score: 3},
		{Query: "passport", Link: "/government/renew-a-passport", Score: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, result.Score)
	assert.Equal(t, map[string]float64{"harry potter": 1, "passport": 0}, result.QueryScores)

	doc := string(body)
	assert.Equal(t, int64(10), gjson.Get(doc, "metric.dcg.k").Int())
	assert.True(t, gjson.Get(doc, "metric.dcg.normalize").Bool())
	assert.Equal(t, "harry potter", gjson.Get(doc, "requests.0.id").String())
	assert.Equal(t, "harry potter", gjson.Get(doc, "requests.0.request.query.match.title").String())
	assert.Equal(t, "guide", gjson.Get(doc, "requests.0.request.post_filter.term.format").String())
	assert.False(t, gjson.Get(doc, "requests.0.request.size").Exists())
	assert.Equal(t, "govuk-2024", gjson.Get(doc, "requests.0.ratings.0._index").String())
	assert.Equal(t, "government-2024", gjson.Get(doc, "requests.1.ratings.0._index").String())
	assert.Equal(t, int64(3), gjson.Get(doc, "requests.1.ratings.0.rating").Int())
}

func TestRankEvalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	builder := QueryBuilderFunc(func(_ context.Context, _ search.Parameters) (search.M, error) {
		return search.M{"query": search.M{"match_all": search.M{}}}, nil
	})
	_, err := NewRankEval(srv.URL, builder, "govuk", "government").Evaluate(context.Background(), []Judgement{{Query: "q", Link: "/a", Score: 1}})
	assert.ErrorContains(t, err, "400")
}
