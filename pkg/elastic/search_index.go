package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/moonwalker/searchindex/pkg/config"
)

const DefaultDocumentType = "generic-document"

// Document is a raw document as stored in the index. The "_type" and "_id"
// keys, when present, become bulk metadata and are not stored.
type Document map[string]interface{}

func (d Document) meta() Meta {
	m := Meta{Type: DefaultDocumentType}
	if t, ok := d["_type"].(string); ok && t != "" {
		m.Type = t
	}
	if id, ok := d["_id"].(string); ok && id != "" {
		m.ID = id
	} else if link, ok := d["link"].(string); ok {
		m.ID = link
	}
	return m
}

func (d Document) source() map[string]interface{} {
	src := make(map[string]interface{}, len(d))
	for k, v := range d {
		if k == "_type" || k == "_id" {
			continue
		}
		src[k] = v
	}
	return src
}

// Writer is the write side of a named index.
type Writer interface {
	BulkIndex(ctx context.Context, docs []Document) error
	Amend(ctx context.Context, link string, updates map[string]interface{}) error
	Delete(ctx context.Context, docType, id string) error
}

// SearchIndex is a named index on one cluster.
type SearchIndex struct {
	name    string
	cluster string
	conn    Conn
}

func NewSearchIndex(name, clusterKey string, conn Conn) *SearchIndex {
	return &SearchIndex{name: name, cluster: clusterKey, conn: conn}
}

func (i *SearchIndex) Name() string {
	return i.name
}

func (i *SearchIndex) BulkIndex(ctx context.Context, docs []Document) error {
	var body BulkBody
	for _, d := range docs {
		m := d.meta()
		if m.ID == "" {
			return fmt.Errorf("%w: document without _id or link", ErrBulkIndexFailure)
		}
		if err := body.Index(m, d.source()); err != nil {
			return err
		}
	}
	if body.Len() == 0 {
		return nil
	}

	res, err := i.conn.Bulk(ctx, i.name, body.Bytes())
	if err != nil {
		return err
	}
	return i.check(res, false)
}

// Amend merges updates into the stored document identified by link.
func (i *SearchIndex) Amend(ctx context.Context, link string, updates map[string]interface{}) error {
	if _, ok := updates["link"]; ok {
		return fmt.Errorf("%w: cannot change a link field", ErrInvalidAmendment)
	}

	doc, err := i.conn.GetDocument(ctx, i.name, link)
	if err != nil {
		return err
	}
	if !doc.Found {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, link, i.name)
	}

	src := []byte(doc.Source)
	if len(src) == 0 {
		src = []byte("{}")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		src, err = sjson.SetBytes(src, escapePath(k), updates[k])
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrInvalidAmendment, k, err)
		}
	}

	var body BulkBody
	if err := body.Index(Meta{Type: doc.Type, ID: doc.ID}, json.RawMessage(src)); err != nil {
		return err
	}
	res, err := i.conn.Bulk(ctx, i.name, body.Bytes())
	if err != nil {
		return err
	}
	return i.check(res, false)
}

// Delete removes a document. Deleting a missing document is not an error.
func (i *SearchIndex) Delete(ctx context.Context, docType, id string) error {
	var body BulkBody
	if err := body.Delete(Meta{Type: docType, ID: id}); err != nil {
		return err
	}
	res, err := i.conn.Bulk(ctx, i.name, body.Bytes())
	if err != nil {
		return err
	}
	return i.check(res, true)
}

func (i *SearchIndex) check(res *BulkResponse, allowMissing bool) error {
	var reasons []string
	for _, it := range res.Items {
		if !it.Failed() {
			continue
		}
		if it.Locked() {
			slog.Info("Index locked",
				"index", i.name,
				"cluster", i.cluster,
				"id", it.ID,
			)
			return fmt.Errorf("%w: %s on %s", ErrIndexLocked, i.name, i.cluster)
		}
		if allowMissing && it.ActionType == "delete" && it.Status == 404 {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s [%d] %s", it.ID, it.Status, it.Reason()))
	}
	if len(reasons) > 0 {
		return fmt.Errorf("%w: %s on %s: %s", ErrBulkIndexFailure, i.name, i.cluster, strings.Join(reasons, "; "))
	}
	return nil
}

func escapePath(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}

// Indices applies writes to a named index on every active cluster.
type Indices struct {
	name string
	pool *Pool
}

func NewIndices(name string, pool *Pool) *Indices {
	return &Indices{name: name, pool: pool}
}

func (x *Indices) each(fn func(*SearchIndex) error) error {
	for _, c := range x.pool.Registry().Active() {
		conn, err := x.pool.Conn(c.Key)
		if err != nil {
			return err
		}
		if err := fn(NewSearchIndex(x.name, c.Key, conn)); err != nil {
			return err
		}
	}
	return nil
}

func (x *Indices) BulkIndex(ctx context.Context, docs []Document) error {
	return x.each(func(i *SearchIndex) error { return i.BulkIndex(ctx, docs) })
}

func (x *Indices) Amend(ctx context.Context, link string, updates map[string]interface{}) error {
	return x.each(func(i *SearchIndex) error { return i.Amend(ctx, link, updates) })
}

func (x *Indices) Delete(ctx context.Context, docType, id string) error {
	return x.each(func(i *SearchIndex) error { return i.Delete(ctx, docType, id) })
}

// Resolver maps configured index names to writers.
type Resolver struct {
	pool  *Pool
	known map[string]bool
}

func NewResolver(cfg config.IndicesConfig, pool *Pool) *Resolver {
	r := &Resolver{pool: pool, known: make(map[string]bool)}
	for _, n := range append([]string{cfg.Govuk, cfg.Metasearch, cfg.SpecialistDocuments, cfg.SpecialistFinder}, cfg.Content...) {
		if n != "" {
			r.known[n] = true
		}
	}
	return r
}

func (r *Resolver) Index(name string) (Writer, error) {
	if !r.known[name] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, name)
	}
	return NewIndices(name, r.pool), nil
}
