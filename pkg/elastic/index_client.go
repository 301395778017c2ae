package elastic

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/moonwalker/searchindex/pkg/config"
)

// IndexClient addresses one named index across the active clusters. Reads
// go to the default cluster, writes go to all of them.
type IndexClient struct {
	name string
	pool *Pool
}

func NewIndexClient(name string, pool *Pool) *IndexClient {
	return &IndexClient{name: name, pool: pool}
}

func Govuk(cfg config.IndicesConfig, pool *Pool) *IndexClient {
	return NewIndexClient(cfg.Govuk, pool)
}

func Metasearch(cfg config.IndicesConfig, pool *Pool) *IndexClient {
	return NewIndexClient(cfg.Metasearch, pool)
}

func SpecialistDocuments(cfg config.IndicesConfig, pool *Pool) *IndexClient {
	return NewIndexClient(cfg.SpecialistDocuments, pool)
}

func SpecialistFinder(cfg config.IndicesConfig, pool *Pool) *IndexClient {
	return NewIndexClient(cfg.SpecialistFinder, pool)
}

func (c *IndexClient) Name() string {
	return c.name
}

// Get runs a search against the default cluster.
func (c *IndexClient) Get(ctx context.Context, body []byte) (*SearchResult, error) {
	conn, err := c.pool.Default()
	if err != nil {
		return nil, err
	}
	return conn.Search(ctx, c.name, body)
}

// GetFrom runs a search against a specific active cluster.
func (c *IndexClient) GetFrom(ctx context.Context, clusterKey string, body []byte) (*SearchResult, error) {
	if err := c.pool.Registry().Validate(clusterKey); err != nil {
		return nil, err
	}
	conn, err := c.pool.Conn(clusterKey)
	if err != nil {
		return nil, err
	}
	return conn.Search(ctx, c.name, body)
}

func (c *IndexClient) GetDocument(ctx context.Context, id string) (*GetResult, error) {
	conn, err := c.pool.Default()
	if err != nil {
		return nil, err
	}
	return conn.GetDocument(ctx, c.name, id)
}

func (c *IndexClient) Analyze(ctx context.Context, analyzer, text string) ([]string, error) {
	conn, err := c.pool.Default()
	if err != nil {
		return nil, err
	}
	return conn.Analyze(ctx, c.name, analyzer, text)
}

// Bulk sends the same body to every active cluster in parallel. Responses
// are returned in active-cluster order.
func (c *IndexClient) Bulk(ctx context.Context, body []byte) ([]*BulkResponse, error) {
	active := c.pool.Registry().Active()
	responses := make([]*BulkResponse, len(active))

	g, ctx := errgroup.WithContext(ctx)
	for i, cl := range active {
		g.Go(func() error {
			conn, err := c.pool.Conn(cl.Key)
			if err != nil {
				return err
			}
			res, err := conn.Bulk(ctx, c.name, body)
			if err != nil {
				return err
			}
			res.Cluster = cl.Key
			responses[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}
