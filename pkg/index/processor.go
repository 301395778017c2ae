package index

import (
	"context"

	"github.com/moonwalker/searchindex/pkg/elastic"
)

// BulkClient is the write path of an index across clusters.
type BulkClient interface {
	Bulk(ctx context.Context, body []byte) ([]*elastic.BulkResponse, error)
}

// Processor buffers actions and commits them as one bulk request per
// cluster. A processor is meant for a single batch: the buffer is kept
// after Commit.
type Processor struct {
	client  BulkClient
	actions []action
}

func NewProcessor(client BulkClient) *Processor {
	return &Processor{client: client}
}

func (p *Processor) Save(doc Indexable) {
	p.actions = append(p.actions, action{kind: actionSave, id: doc.Identifier(), document: doc.Document()})
}

func (p *Processor) Delete(doc Indexable) {
	p.actions = append(p.actions, action{kind: actionDelete, id: doc.Identifier()})
}

// Raw appends an index action without going through an Indexable.
func (p *Processor) Raw(id Identifier, document interface{}) {
	p.actions = append(p.actions, action{kind: actionRaw, id: id, document: document})
}

func (p *Processor) Len() int {
	return len(p.actions)
}

// Body renders the buffered actions as a bulk request body.
func (p *Processor) Body() ([]byte, error) {
	var body elastic.BulkBody
	for _, a := range p.actions {
		var err error
		switch a.kind {
		case actionDelete:
			err = body.Delete(a.id.meta())
		default:
			err = body.Index(a.id.meta(), a.document)
		}
		if err != nil {
			return nil, err
		}
	}
	return body.Bytes(), nil
}

// Commit sends the buffer to every active cluster. An empty buffer makes no
// call and returns nil.
func (p *Processor) Commit(ctx context.Context) ([]*elastic.BulkResponse, error) {
	if len(p.actions) == 0 {
		return nil, nil
	}
	body, err := p.Body()
	if err != nil {
		return nil, err
	}
	return p.client.Bulk(ctx, body)
}
