package elastic_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/searchindex/pkg/cluster"
	"github.com/moonwalker/searchindex/pkg/config"
	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/elastic/elastictest"
)

func bulkBody(t *testing.T, fn func(b *elastic.BulkBody)) []byte {
	t.Helper()
	var b elastic.BulkBody
	fn(&b)
	return b.Bytes()
}

func TestBulkFansOutToAllClusters(t *testing.T) {
	pool, clusters := elastictest.Setup("A", "B", "C")
	client := elastic.NewIndexClient("govuk", pool)

	body := bulkBody(t, func(b *elastic.BulkBody) {
		require.NoError(t, b.Index(elastic.Meta{Type: "edition", ID: "/a"}, map[string]string{"title": "A"}))
	})

	responses, err := client.Bulk(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, responses, 3)
	for i, key := range []string{"A", "B", "C"} {
		assert.Equal(t, key, responses[i].Cluster)
		assert.Equal(t, 1, clusters[key].BulkCalls())
		assert.Equal(t, 1, clusters[key].Count("govuk"))
	}
}

func TestGetUsesDefaultCluster(t *testing.T) {
	pool, clusters := elastictest.Setup("A", "B")
	clusters["B"].Put("govuk", "edition", "/only-b", map[string]string{})
	clusters["A"].Put("govuk", "edition", "/only-a", map[string]string{})

	res, err := elastic.NewIndexClient("govuk", pool).Get(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, "/only-a", res.Hits.Hits[0].ID)
	assert.Len(t, clusters["B"].Searches(), 0)
}

func TestGetFromValidatesCluster(t *testing.T) {
	pool, _ := elastictest.Setup("A", "B")
	client := elastic.NewIndexClient("govuk", pool)

	_, err := client.GetFrom(context.Background(), "B", []byte(`{}`))
	assert.NoError(t, err)

	_, err = client.GetFrom(context.Background(), "Z", []byte(`{}`))
	assert.True(t, errors.Is(err, cluster.ErrInvalidCluster))
}

func TestIndexedThenDeletedInAllClusters(t *testing.T) {
	pool, clusters := elastictest.Setup("A", "B")
	client := elastic.NewIndexClient("govuk", pool)
	ctx := context.Background()

	_, err := client.Bulk(ctx, bulkBody(t, func(b *elastic.BulkBody) {
		require.NoError(t, b.Index(elastic.Meta{Type: "edition", ID: "/doc"}, map[string]string{"title": "Doc"}))
	}))
	require.NoError(t, err)

	doc, err := client.GetDocument(ctx, "/doc")
	require.NoError(t, err)
	assert.True(t, doc.Found)

	_, err = client.Bulk(ctx, bulkBody(t, func(b *elastic.BulkBody) {
		require.NoError(t, b.Delete(elastic.Meta{Type: "edition", ID: "/doc"}))
	}))
	require.NoError(t, err)

	for _, key := range []string{"A", "B"} {
		conn, err := pool.Conn(key)
		require.NoError(t, err)
		doc, err := conn.GetDocument(ctx, "govuk", "/doc")
		require.NoError(t, err)
		assert.False(t, doc.Found, key)
		assert.Equal(t, 0, clusters[key].Count("govuk"))
	}
}

func TestPoolCreatesOneConnPerCluster(t *testing.T) {
	registry, err := cluster.New([]cluster.Cluster{{Key: "A", URI: "mem://a", Default: true}, {Key: "B"}})
	require.NoError(t, err)

	var created int32
	pool := elastic.NewPoolWithFactory(registry, func(c cluster.Cluster) (elastic.Conn, error) {
		atomic.AddInt32(&created, 1)
		return elastictest.NewCluster(c.Key), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Conn("A")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))

	_, err = pool.Conn("B")
	assert.True(t, errors.Is(err, cluster.ErrInvalidCluster))

	_, err = pool.Conn("Z")
	assert.True(t, errors.Is(err, cluster.ErrClusterNotFound))
}

func TestIndexVariants(t *testing.T) {
	pool, _ := elastictest.Setup("A")
	cfg := config.IndicesConfig{
		Govuk:               "govuk",
		Metasearch:          "metasearch",
		SpecialistDocuments: "specialist-documents",
		SpecialistFinder:    "specialist-finder",
	}

	assert.Equal(t, "govuk", elastic.Govuk(cfg, pool).Name())
	assert.Equal(t, "metasearch", elastic.Metasearch(cfg, pool).Name())
	assert.Equal(t, "specialist-documents", elastic.SpecialistDocuments(cfg, pool).Name())
	assert.Equal(t, "specialist-finder", elastic.SpecialistFinder(cfg, pool).Name())
}
