package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupContentID(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lookup-by-base-path", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			BasePaths []string `json:"base_paths"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		out := map[string]string{}
		for _, p := range body.BasePaths {
			if p == "/vat-rates" {
				out[p] = "a1b2"
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")

	id, err := c.LookupContentID(context.Background(), "/vat-rates")
	require.NoError(t, err)
	assert.Equal(t, "a1b2", id)

	// cached
	id, err = c.LookupContentID(context.Background(), "/vat-rates")
	require.NoError(t, err)
	assert.Equal(t, "a1b2", id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	id, err = c.LookupContentID(context.Background(), "/unknown")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/content/a1b2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document_type":"answer","publishing_app":"publisher","rendering_app":"frontend"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")

	item, err := c.GetContent(context.Background(), "a1b2")
	require.NoError(t, err)
	assert.Equal(t, "answer", item["document_type"])
	assert.Equal(t, "frontend", item["rendering_app"])

	_, err = c.GetContent(context.Background(), "zzz")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTimeoutIsWrapped(t *testing.T) {
	assert.ErrorIs(t, wrapErr(context.DeadlineExceeded), ErrTimeout)
	assert.NotErrorIs(t, wrapErr(errors.New("refused")), ErrTimeout)
}
