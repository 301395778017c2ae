// Package elastictest provides an in-memory cluster implementing elastic.Conn.
package elastictest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/cluster"
	"github.com/moonwalker/searchindex/pkg/elastic"
)

const lockedReason = "index [%s] blocked by: [FORBIDDEN/12/index read-only / allow delete (api)];"

type stored struct {
	typ     string
	version int64
	source  json.RawMessage
}

// Cluster keeps documents per index in memory and answers bulk, get and
// search calls roughly the way a real cluster would.
type Cluster struct {
	Key string

	// SearchFunc overrides the default match-all search when set.
	SearchFunc func(index string, body []byte) (*elastic.SearchResult, error)
	// StatusFunc forces an item status for an action and id when it
	// returns a non-zero value.
	StatusFunc func(action, id string) int
	// Err is returned by every call when set.
	Err error

	mu       sync.Mutex
	docs     map[string]map[string]stored
	locked   map[string]bool
	bulks    int
	searches [][]byte
}

func NewCluster(key string) *Cluster {
	return &Cluster{
		Key:    key,
		docs:   make(map[string]map[string]stored),
		locked: make(map[string]bool),
	}
}

// Setup builds a registry and pool over in-memory clusters. The first key is
// the default cluster.
func Setup(keys ...string) (*elastic.Pool, map[string]*Cluster) {
	clusters := make(map[string]*Cluster, len(keys))
	defs := make([]cluster.Cluster, 0, len(keys))
	for i, k := range keys {
		clusters[k] = NewCluster(k)
		defs = append(defs, cluster.Cluster{Key: k, URI: "mem://" + k, Default: i == 0})
	}
	registry, err := cluster.New(defs)
	if err != nil {
		panic(err)
	}
	pool := elastic.NewPoolWithFactory(registry, func(c cluster.Cluster) (elastic.Conn, error) {
		return clusters[c.Key], nil
	})
	return pool, clusters
}

func (c *Cluster) Lock(index string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked[index] = true
}

func (c *Cluster) Unlock(index string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locked, index)
}

// Put stores a document directly.
func (c *Cluster) Put(index, docType, id string, source interface{}) {
	data, err := json.Marshal(source)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index(index)[id] = stored{typ: docType, source: data}
}

// Source returns the stored source of a document.
func (c *Cluster) Source(index, id string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.index(index)[id]
	return d.source, ok
}

func (c *Cluster) Count(index string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index(index))
}

func (c *Cluster) BulkCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bulks
}

// Searches returns every search body received, in order.
func (c *Cluster) Searches() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.searches))
	copy(out, c.searches)
	return out
}

func (c *Cluster) index(name string) map[string]stored {
	idx, ok := c.docs[name]
	if !ok {
		idx = make(map[string]stored)
		c.docs[name] = idx
	}
	return idx
}

func (c *Cluster) Bulk(_ context.Context, index string, body []byte) (*elastic.BulkResponse, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulks++

	lines := bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n"))
	var items []string
	hasErrors := false

	for n := 0; n < len(lines); n++ {
		var action string
		var meta gjson.Result
		gjson.ParseBytes(lines[n]).ForEach(func(k, v gjson.Result) bool {
			action, meta = k.String(), v
			return false
		})
		id := meta.Get("_id").String()

		var doc json.RawMessage
		if action != "delete" {
			n++
			if n >= len(lines) {
				return nil, fmt.Errorf("%w: missing document line", elastic.ErrElasticsearch)
			}
			doc = json.RawMessage(append([]byte(nil), lines[n]...))
		}

		status, errBody := c.apply(index, action, meta, doc)
		if c.StatusFunc != nil {
			if s := c.StatusFunc(action, id); s != 0 {
				status, errBody = s, fmt.Sprintf(`{"type":"forced","reason":"forced status %d"}`, s)
			}
		}

		item := fmt.Sprintf(`{"%s":{"_index":%q,"_id":%q,"status":%d`, action, index, id, status)
		if errBody != "" {
			item += `,"error":` + errBody
			hasErrors = true
		}
		items = append(items, item+"}}")
	}

	raw := fmt.Sprintf(`{"took":1,"errors":%t,"items":[%s]}`, hasErrors, strings.Join(items, ","))
	res := &elastic.BulkResponse{Cluster: c.Key, Took: 1, Errors: hasErrors}
	gjson.Get(raw, "items").ForEach(func(_, item gjson.Result) bool {
		item.ForEach(func(k, v gjson.Result) bool {
			bi := elastic.BulkItem{
				ActionType: k.String(),
				ID:         v.Get("_id").String(),
				Status:     int(v.Get("status").Int()),
				Details:    json.RawMessage(v.Raw),
			}
			if e := v.Get("error"); e.Exists() {
				bi.Error = json.RawMessage(e.Raw)
			}
			res.Items = append(res.Items, bi)
			return false
		})
		return true
	})
	return res, nil
}

func (c *Cluster) apply(index, action string, meta gjson.Result, doc json.RawMessage) (int, string) {
	if c.locked[index] {
		return 403, fmt.Sprintf(`{"type":"cluster_block_exception","reason":%q}`, fmt.Sprintf(lockedReason, index))
	}

	idx := c.index(index)
	id := meta.Get("_id").String()
	existing, exists := idx[id]

	switch action {
	case "delete":
		if !exists {
			return 404, ""
		}
		delete(idx, id)
		return 200, ""
	case "index", "create":
		version := meta.Get("version").Int()
		stale := false
		switch meta.Get("version_type").String() {
		case "external":
			stale = version <= existing.version
		case "external_gte":
			stale = version < existing.version
		}
		if exists && stale {
			return 409, `{"type":"version_conflict_engine_exception","reason":"version conflict"}`
		}
		idx[id] = stored{typ: meta.Get("_type").String(), version: version, source: doc}
		if exists {
			return 200, ""
		}
		return 201, ""
	}
	return 400, fmt.Sprintf(`{"type":"illegal_argument_exception","reason":"unknown action %s"}`, action)
}

func (c *Cluster) GetDocument(_ context.Context, index, id string) (*elastic.GetResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.index(index)[id]
	if !ok {
		return &elastic.GetResult{Index: index, ID: id}, nil
	}
	return &elastic.GetResult{
		Index:   index,
		Type:    d.typ,
		ID:      id,
		Version: d.version,
		Found:   true,
		Source:  d.source,
	}, nil
}

// Search returns every document of the named indices unless SearchFunc is set.
func (c *Cluster) Search(_ context.Context, index string, body []byte) (*elastic.SearchResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	c.searches = append(c.searches, append([]byte(nil), body...))
	fn := c.SearchFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(index, body)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	res := &elastic.SearchResult{}
	for _, name := range strings.Split(index, ",") {
		idx := c.index(name)
		ids := make([]string, 0, len(idx))
		for id := range idx {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			d := idx[id]
			res.Hits.Hits = append(res.Hits.Hits, elastic.SearchHit{
				Index:  name,
				Type:   d.typ,
				ID:     id,
				Score:  1,
				Source: d.source,
			})
		}
	}
	res.Hits.Total = elastic.SearchTotal{Value: len(res.Hits.Hits), Relation: "eq"}
	return res, nil
}

// Analyze lowercases and splits on whitespace.
func (c *Cluster) Analyze(_ context.Context, _, _, text string) ([]string, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return strings.Fields(strings.ToLower(text)), nil
}
