package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/elastic"
)

type betIndex struct {
	analyzed string
	hits     []elastic.SearchHit
	err      error
	searches [][]byte
}

func (b *betIndex) RawSearch(_ context.Context, payload []byte) (*elastic.SearchResult, error) {
	b.searches = append(b.searches, payload)
	if b.err != nil {
		return nil, b.err
	}
	res := &elastic.SearchResult{}
	res.Hits.Hits = b.hits
	return res, nil
}

func (b *betIndex) AnalyzedBestBetQuery(_ context.Context, _ string) (string, error) {
	return b.analyzed, nil
}

func betHit(t *testing.T, id, stemmed string, best []bet, worst []bet) elastic.SearchHit {
	t.Helper()
	details, err := json.Marshal(betDetails{BestBets: best, WorstBets: worst})
	require.NoError(t, err)
	source := map[string]interface{}{"details": []string{string(details)}}
	if stemmed != "" {
		source["stemmed_query_as_term"] = []string{stemmed}
	}
	raw, err := json.Marshal(source)
	require.NoError(t, err)
	return elastic.SearchHit{ID: id, Source: raw}
}

func TestCheckerExactWins(t *testing.T) {
	idx := &betIndex{
		analyzed: "tax disc",
		hits: []elastic.SearchHit{
			betHit(t, "tax-stemmed", " tax ", []bet{{Link: "/stemmed", Position: 1}}, nil),
			betHit(t, "tax disc-exact", "", []bet{{Link: "/exact", Position: 1}}, []bet{{Link: "/worst"}}),
		},
	}

	bets, err := NewChecker(idx, 0).Lookup(context.Background(), "tax disc")
	require.NoError(t, err)

	assert.Equal(t, map[int][]string{1: {"/exact"}}, bets.Best)
	assert.Equal(t, []string{"/worst"}, bets.Worst)

	require.Len(t, idx.searches, 1)
	payload := string(idx.searches[0])
	assert.Equal(t, "tax disc", gjson.Get(payload, "query.bool.should.0.match.exact_query").String())
	assert.Equal(t, "best_bet", gjson.Get(payload, "post_filter.bool.must.match.document_type").String())
	assert.Equal(t, int64(1000), gjson.Get(payload, "size").Int())
}

func TestCheckerCombinesStemmed(t *testing.T) {
	idx := &betIndex{
		analyzed: "vehicl tax disc",
		hits: []elastic.SearchHit{
			betHit(t, "tax-stemmed", " tax ", []bet{{Link: "/b", Position: 2}, {Link: "/a", Position: 2}}, []bet{{Link: "/w"}}),
			betHit(t, "vehicle tax-stemmed", " vehicl tax ", []bet{{Link: "/b", Position: 1}, {Link: "/c", Position: 3}}, []bet{{Link: "/w"}}),
			// not a substring of the analyzed query
			betHit(t, "car tax-stemmed", " car tax ", []bet{{Link: "/car", Position: 1}}, nil),
		},
	}

	bets, err := NewChecker(idx, 0).Lookup(context.Background(), "vehicle tax disc")
	require.NoError(t, err)

	assert.Equal(t, map[int][]string{1: {"/b"}, 2: {"/a"}, 3: {"/c"}}, bets.Best)
	assert.Equal(t, []string{"/w"}, bets.Worst)
}

func TestCheckerCachesPerQuery(t *testing.T) {
	idx := &betIndex{analyzed: "tax", hits: []elastic.SearchHit{
		betHit(t, "tax-exact", "", []bet{{Link: "/a", Position: 1}}, nil),
	}}
	c := NewChecker(idx, 0)

	for i := 0; i < 3; i++ {
		_, err := c.Lookup(context.Background(), "tax")
		require.NoError(t, err)
	}
	_, err := c.Lookup(context.Background(), "vat")
	require.NoError(t, err)

	assert.Len(t, idx.searches, 2)
}

func TestCheckerEmptyQuery(t *testing.T) {
	idx := &betIndex{}
	bets, err := NewChecker(idx, 0).Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, bets.Empty())
	assert.Empty(t, idx.searches)
}

func TestCheckerSearchError(t *testing.T) {
	idx := &betIndex{err: elastic.ErrElasticsearch}
	_, err := NewChecker(idx, 0).Lookup(context.Background(), "tax")
	assert.True(t, errors.Is(err, elastic.ErrElasticsearch))
}

func TestSplitLast(t *testing.T) {
	q, kind := splitLast("tax-disc-exact", "-")
	assert.Equal(t, "tax-disc", q)
	assert.Equal(t, "exact", kind)

	q, kind = splitLast("plain", "-")
	assert.Equal(t, "", q)
	assert.Equal(t, "plain", kind)
}
