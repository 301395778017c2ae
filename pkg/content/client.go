// Package content talks to the publishing API and backfills document
// metadata the search indices are missing.
package content

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
)

const (
	lookupTTL      = 5 * time.Minute
	requestTimeout = 10 * time.Second
)

var (
	ErrTimeout  = errors.New("publishing api timed out")
	ErrNotFound = errors.New("content not found")
)

// Client is a publishing API client. Content id lookups are cached for five
// minutes.
type Client struct {
	http    *req.Client
	lookups *cache.Cache
}

func NewClient(baseURL, token string) *Client {
	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetCommonHeader("accept", "application/json")
	if token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return &Client{
		http:    c,
		lookups: cache.New(lookupTTL, 2*lookupTTL),
	}
}

// LookupContentID resolves a base path to its live content id. An unknown
// path returns "" and no error.
func (c *Client) LookupContentID(ctx context.Context, basePath string) (string, error) {
	if id, ok := c.lookups.Get(basePath); ok {
		return id.(string), nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"base_paths": []string{basePath}, "with_drafts": false}).
		Post("/lookup-by-base-path")
	if err != nil {
		return "", wrapErr(err)
	}
	if resp.IsErrorState() {
		return "", fmt.Errorf("publishing api returned %d for lookup of %s", resp.StatusCode, basePath)
	}

	id := gjson.GetBytes(resp.Bytes(), gjson.Escape(basePath)).String()
	if id != "" {
		c.lookups.SetDefault(basePath, id)
	}
	return id, nil
}

// GetContent returns the latest edition of a content item.
func (c *Client) GetContent(ctx context.Context, contentID string) (map[string]interface{}, error) {
	var item map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", contentID).
		SetSuccessResult(&item).
		Get("/v2/content/{id}")
	if err != nil {
		return nil, wrapErr(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("publishing api returned %d for %s", resp.StatusCode, contentID)
	}
	return item, nil
}

func wrapErr(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}
