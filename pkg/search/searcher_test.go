package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/cluster"
	"github.com/moonwalker/searchindex/pkg/config"
	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/elastic/elastictest"
)

func testConfig() config.Config {
	return config.Config{
		Indices: config.IndicesConfig{
			Content:  []string{"govuk", "government"},
			Spelling: []string{"govuk"},
		},
		Spelling: config.SpellingConfig{OrganisationAcronyms: []string{"hmrc"}},
	}
}

func TestSearcherRun(t *testing.T) {
	pool, clusters := elastictest.Setup("A", "B")
	clusters["A"].Put("govuk", "edition", "/a", map[string]interface{}{"link": "/a", "title": "Tax <disc>"})
	clusters["A"].Put("government", "edition", "/b", map[string]interface{}{"link": "/b", "title": "Road tax"})

	s := NewSearcher(testConfig(), pool, nil)
	set, err := s.Run(context.Background(), Parameters{
		Query:        "tax",
		Count:        10,
		ReturnFields: []string{"title", "title_with_highlighting"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, set.Total)
	require.Len(t, set.Results, 2)
	first := set.Results[0]
	assert.Equal(t, "govuk", first.Index)
	assert.Equal(t, "/a", first.Link)
	assert.Equal(t, "Tax <disc>", first.Fields["title"])
	assert.Equal(t, "Tax &lt;disc&gt;", first.Fields["title_with_highlighting"])
	assert.NotContains(t, first.Fields, "link")

	// reads only go to the default cluster
	assert.Len(t, clusters["A"].Searches(), 1)
	assert.Empty(t, clusters["B"].Searches())
	assert.Nil(t, set.SuggestedQueries)
}

func TestSearcherRunOnCluster(t *testing.T) {
	pool, clusters := elastictest.Setup("A", "B")
	s := NewSearcher(testConfig(), pool, nil)

	_, err := s.Run(context.Background(), Parameters{Cluster: "B"})
	require.NoError(t, err)
	assert.Len(t, clusters["B"].Searches(), 1)
	assert.Empty(t, clusters["A"].Searches())

	_, err = s.Run(context.Background(), Parameters{Cluster: "Z"})
	assert.True(t, errors.Is(err, cluster.ErrInvalidCluster))
}

func TestSearcherSpelling(t *testing.T) {
	pool, clusters := elastictest.Setup("A")
	clusters["A"].SearchFunc = func(index string, body []byte) (*elastic.SearchResult, error) {
		res := &elastic.SearchResult{}
		if gjson.GetBytes(body, "suggest").Exists() {
			assert.Equal(t, "govuk", index)
			res.Suggest = []byte(`{"spelling_suggestions":[{"options":[{"text":"driving","highlighted":"<mark>driving</mark>"}]}]}`)
		}
		return res, nil
	}
	s := NewSearcher(testConfig(), pool, nil)

	set, err := s.Run(context.Background(), Parameters{Query: "drivng", Suggest: []string{"spelling"}})
	require.NoError(t, err)
	assert.Equal(t, []Suggestion{{Text: "driving", Highlighted: "<mark>driving</mark>"}}, set.SuggestedQueries)
	assert.Len(t, clusters["A"].Searches(), 2)

	// acronyms are never corrected
	set, err = s.Run(context.Background(), Parameters{Query: "hmrc", Suggest: []string{"spelling"}})
	require.NoError(t, err)
	assert.Nil(t, set.SuggestedQueries)
	assert.Len(t, clusters["A"].Searches(), 3)
}

func TestSearcherError(t *testing.T) {
	pool, clusters := elastictest.Setup("A")
	clusters["A"].Err = elastic.ErrElasticsearch

	_, err := NewSearcher(testConfig(), pool, nil).Run(context.Background(), Parameters{Query: "tax"})
	assert.True(t, errors.Is(err, elastic.ErrElasticsearch))
}

func TestSelectFieldsUsesHighlight(t *testing.T) {
	source := map[string]interface{}{"title": "Tax", "description": "About tax"}
	highlight := map[string][]string{"description.synonym": {"About <mark>tax</mark>"}}
	params := Parameters{ReturnFields: []string{"description_with_highlighting"}}

	fields := selectFields(source, highlight, params)
	assert.Equal(t, map[string]interface{}{"description_with_highlighting": "About <mark>tax</mark>"}, fields)
	assert.Equal(t, source, selectFields(source, nil, Parameters{}))
}
