package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/cluster"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
)

// Conn is the set of search engine operations used per cluster.
type Conn interface {
	Search(ctx context.Context, index string, body []byte) (*SearchResult, error)
	Bulk(ctx context.Context, index string, body []byte) (*BulkResponse, error)
	GetDocument(ctx context.Context, index, id string) (*GetResult, error)
	Analyze(ctx context.Context, index, analyzer, text string) ([]string, error)
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to a single cluster.
type Client struct {
	es      *elasticsearch.Client
	cluster string
	timeout time.Duration
}

func NewClient(c cluster.Cluster, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:            []string{c.URI},
		RetryOnStatus:        []int{502, 503, 504},
		EnableRetryOnTimeout: true,
		MaxRetries:           opts.MaxRetries,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: opts.Timeout}).DialContext,
			ResponseHeaderTimeout: opts.Timeout,
			MaxIdleConnsPerHost:   10,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{es: es, cluster: c.Key, timeout: opts.Timeout}, nil
}

func (c *Client) Cluster() string {
	return c.cluster
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Search(ctx context.Context, index string, body []byte) (*SearchResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	slog.Debug("Elastic query",
		"query", string(body),
		"index", index,
		"cluster", c.cluster,
	)

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(strings.Split(index, ",")...),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		slog.Error("Error getting response",
			"err", err.Error(),
			"index", index,
			"cluster", c.cluster,
		)
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		err = responseError("failed to run query", res.StatusCode, data)
		slog.Error("Elastic search error",
			"err", err.Error(),
			"index", index,
			"cluster", c.cluster,
		)
		return nil, err
	}

	var r SearchResult
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Error("Error parsing the response body",
			"err", err.Error(),
		)
		return nil, err
	}
	r.Raw = data

	slog.Debug("Elastic query time",
		"took", r.Took,
		"cluster", c.cluster,
	)

	return &r, nil
}

// Bulk sends an NDJSON body and returns the per-item outcomes.
func (c *Client) Bulk(ctx context.Context, index string, body []byte) (*BulkResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Bulk(
		bytes.NewReader(body),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(index),
	)
	if err != nil {
		slog.Error("Error sending bulk request",
			"err", err.Error(),
			"index", index,
			"cluster", c.cluster,
		)
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	// if the whole request failed there are no items to inspect
	if res.IsError() {
		err = responseError("failed to index batch", res.StatusCode, data)
		slog.Error("Elastic bulk error",
			"err", err.Error(),
			"index", index,
			"cluster", c.cluster,
		)
		return nil, err
	}

	r, err := parseBulkResponse(data)
	if err != nil {
		return nil, err
	}
	r.Cluster = c.cluster
	return r, nil
}

// GetDocument fetches a document by id. A missing document is returned with
// Found set to false and no error.
func (c *Client) GetDocument(ctx context.Context, index, id string) (*GetResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusNotFound {
		return &GetResult{Index: index, ID: id, Found: false}, nil
	}
	if res.IsError() {
		return nil, responseError("failed to get document", res.StatusCode, data)
	}

	var r GetResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Analyze runs text through a named analyzer of the index and returns the
// resulting tokens.
func (c *Client) Analyze(ctx context.Context, index, analyzer, text string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"analyzer": analyzer, "text": text})
	if err != nil {
		return nil, err
	}

	res, err := c.es.Indices.Analyze(
		c.es.Indices.Analyze.WithContext(ctx),
		c.es.Indices.Analyze.WithIndex(index),
		c.es.Indices.Analyze.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, responseError("failed to analyze", res.StatusCode, data)
	}

	var tokens []string
	for _, t := range gjson.GetBytes(data, "tokens.#.token").Array() {
		tokens = append(tokens, t.String())
	}
	return tokens, nil
}
