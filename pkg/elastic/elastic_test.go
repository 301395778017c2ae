// $ go test -v -count=1 ./pkg/elastic/...

package elastic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/searchindex/pkg/cluster"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			io.WriteString(w, `{"version":{"number":"7.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(cluster.Cluster{Key: "A", URI: srv.URL, Default: true}, Options{MaxRetries: 1})
	require.NoError(t, err)
	return c
}

func TestClientSearch(t *testing.T) {
	var gotBody string
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/govuk/_search", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{"took":3,"hits":{"total":{"value":1,"relation":"eq"},"hits":[
			{"_index":"govuk","_type":"edition","_id":"/a","_score":1.5,"_source":{"title":"A"},"highlight":{"title":["<mark>A</mark>"]}}]}}`)
	})

	res, err := c.Search(context.Background(), "govuk", []byte(`{"query":{"match_all":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"query":{"match_all":{}}}`, gotBody)
	assert.Equal(t, 1, res.Hits.Total.Value)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, "/a", res.Hits.Hits[0].ID)
	assert.Equal(t, []string{"<mark>A</mark>"}, res.Hits.Hits[0].Highlight["title"])
	assert.NotEmpty(t, res.Raw)
}

func TestClientSearchError(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"type":"parsing_exception","reason":"bad query"},"status":400}`)
	})

	_, err := c.Search(context.Background(), "govuk", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrElasticsearch))
	assert.Contains(t, err.Error(), "bad query")
}

func TestClientBulk(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/govuk/_bulk", r.URL.Path)
		io.WriteString(w, `{"took":2,"errors":true,"items":[
			{"index":{"_id":"/a","status":201}},
			{"delete":{"_id":"/b","status":404}},
			{"index":{"_id":"/c","status":403,"error":{"type":"cluster_block_exception","reason":"index [govuk] blocked by: [FORBIDDEN/12/index read-only / allow delete (api)];"}}}]}`)
	})

	res, err := c.Bulk(context.Background(), "govuk", []byte("{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "A", res.Cluster)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "index", res.Items[0].ActionType)
	assert.Equal(t, 201, res.Items[0].Status)
	assert.Equal(t, "delete", res.Items[1].ActionType)
	assert.True(t, res.Items[2].Locked())
	assert.Len(t, res.Failures(), 2)
}

func TestClientGetDocument(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"_index":"govuk","_id":"missing","found":false}`)
			return
		}
		io.WriteString(w, `{"_index":"govuk","_type":"_doc","_id":"x","_version":3,"found":true,"_source":{"title":"X"}}`)
	})

	doc, err := c.GetDocument(context.Background(), "govuk", "x")
	require.NoError(t, err)
	assert.True(t, doc.Found)
	assert.Equal(t, int64(3), doc.Version)
	assert.JSONEq(t, `{"title":"X"}`, string(doc.Source))

	doc, err = c.GetDocument(context.Background(), "govuk", "missing")
	require.NoError(t, err)
	assert.False(t, doc.Found)
}

func TestClientAnalyze(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metasearch/_analyze", r.URL.Path)
		io.WriteString(w, `{"tokens":[{"token":"car"},{"token":"tax"}]}`)
	})

	tokens, err := c.Analyze(context.Background(), "metasearch", "best_bet_stemmed_match", "Car Taxes")
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "tax"}, tokens)
}

func TestResponseError(t *testing.T) {
	err := responseError("failed", 403, []byte(`{"error":{"type":"cluster_block_exception","reason":"blocked by: [FORBIDDEN/8/index read-only / allow delete (api)];"}}`))
	assert.True(t, errors.Is(err, ErrIndexLocked))

	err = responseError("failed", 404, []byte(`{"error":"alias [x] missing"}`))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "alias [x] missing")
}

func TestIsLockReason(t *testing.T) {
	assert.True(t, IsLockReason("[FORBIDDEN/12/index read-only / allow delete (api)]"))
	assert.False(t, IsLockReason("[FORBIDDEN/5/index read-write]"))
	assert.False(t, IsLockReason("version conflict"))
}

func TestBulkBody(t *testing.T) {
	v := int64(7)
	var b BulkBody
	require.NoError(t, b.Index(Meta{Type: "edition", ID: "/a", Version: &v, VersionType: "external"}, map[string]string{"title": "A"}))
	require.NoError(t, b.Delete(Meta{Type: "edition", ID: "/b", Version: &v}))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t,
		`{"index":{"_type":"edition","_id":"/a","version":7,"version_type":"external"}}`+"\n"+
			`{"title":"A"}`+"\n"+
			`{"delete":{"_type":"edition","_id":"/b"}}`+"\n",
		string(b.Bytes()))
}
