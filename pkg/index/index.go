// Package index buffers document writes into bulk requests and classifies
// the per-item outcomes.
package index

import (
	"github.com/moonwalker/searchindex/pkg/elastic"
)

const (
	VersionTypeExternal    = "external"
	VersionTypeExternalGTE = "external_gte"
)

// Identifier locates a document and optionally carries the version used for
// optimistic concurrency.
type Identifier struct {
	Type        string
	ID          string
	Version     *int64
	VersionType string
}

func (i Identifier) meta() elastic.Meta {
	return elastic.Meta{
		Type:        i.Type,
		ID:          i.ID,
		Version:     i.Version,
		VersionType: i.VersionType,
	}
}

// Indexable is anything that can be written to or removed from an index.
type Indexable interface {
	Identifier() Identifier
	Document() map[string]interface{}
}

type actionKind int

const (
	actionSave actionKind = iota
	actionDelete
	actionRaw
)

type action struct {
	kind     actionKind
	id       Identifier
	document interface{}
}
