package metasearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/elastic/elastictest"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/index"
	"github.com/moonwalker/searchindex/pkg/metrics"
	"github.com/moonwalker/searchindex/pkg/search"
)

func setup(keys ...string) (*Index, map[string]*elastictest.Cluster, *metrics.Recorder, *errtrack.Recorder) {
	pool, clusters := elastictest.Setup(keys...)
	m := metrics.NewRecorder()
	n := &errtrack.Recorder{}
	return New(elastic.NewIndexClient("metasearch", pool), m, n), clusters, m, n
}

var betDoc = map[string]interface{}{
	"exact_query": "tax disc",
	"details":     `{"best_bets":[{"link":"/vehicle-tax","position":1}],"worst_bets":[]}`,
	"ignored":     "field",
}

func TestNewBestBetValidation(t *testing.T) {
	_, err := NewBestBet("", betDoc)
	assert.True(t, errors.Is(err, ErrMissingArgument))

	_, err = NewBestBet("tax-exact", nil)
	assert.True(t, errors.Is(err, ErrMissingArgument))

	_, err = NewBestBet("tax-exact", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrMissingArgument))

	bet, err := NewBestBet("tax-exact", betDoc)
	require.NoError(t, err)
	assert.Equal(t, index.Identifier{Type: DocumentType, ID: "tax-exact"}, bet.Identifier())
	assert.NotContains(t, bet.Document(), "ignored")
	assert.Equal(t, "tax disc", bet.Document()["exact_query"])
}

func TestInsert(t *testing.T) {
	idx, clusters, m, n := setup("A", "B")

	require.NoError(t, idx.Insert(context.Background(), "tax disc-exact", betDoc))

	for _, c := range clusters {
		src, ok := c.Source("metasearch", "tax disc-exact")
		require.True(t, ok)
		assert.Equal(t, "tax disc", gjson.GetBytes(src, "exact_query").String())
	}
	assert.Equal(t, 2, m.Count("metasearch.elasticsearch.index"))
	assert.Equal(t, 0, n.Len())
}

func TestInsertFailureNotifies(t *testing.T) {
	idx, clusters, m, n := setup("A")
	clusters["A"].StatusFunc = func(action, id string) int { return 400 }

	err := idx.Insert(context.Background(), "tax-exact", betDoc)
	assert.True(t, errors.Is(err, index.ErrElasticsearch))
	assert.Equal(t, 1, m.Count("metasearch.elasticsearch.index_error"))
	require.Equal(t, 1, n.Len())
	assert.Equal(t, "index", n.Notifications()[0].Extra["action_type"])
}

func TestDelete(t *testing.T) {
	idx, clusters, m, n := setup("A", "B")
	require.NoError(t, idx.Insert(context.Background(), "tax-exact", betDoc))

	require.NoError(t, idx.Delete(context.Background(), "tax-exact"))
	for _, c := range clusters {
		_, ok := c.Source("metasearch", "tax-exact")
		assert.False(t, ok)
	}
	assert.Equal(t, 2, m.Count("metasearch.elasticsearch.delete"))

	err := idx.Delete(context.Background(), "tax-exact")
	assert.True(t, errors.Is(err, index.ErrNotFound))
	assert.Equal(t, 1, m.Count("metasearch.elasticsearch.already_deleted"))
	assert.Equal(t, 0, n.Len())

	assert.True(t, errors.Is(idx.Delete(context.Background(), " "), ErrMissingArgument))
}

func TestAnalyzedBestBetQuery(t *testing.T) {
	idx, _, _, _ := setup("A")

	analyzed, err := idx.AnalyzedBestBetQuery(context.Background(), "Tax  Disc")
	require.NoError(t, err)
	assert.Equal(t, "tax disc", analyzed)
}

func TestCheckerAgainstIndex(t *testing.T) {
	idx, _, _, _ := setup("A")
	require.NoError(t, idx.Insert(context.Background(), "tax disc-exact", betDoc))

	bets, err := search.NewChecker(idx, 0).Lookup(context.Background(), "tax disc")
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{1: {"/vehicle-tax"}}, bets.Best)
	assert.Empty(t, bets.Worst)
}
