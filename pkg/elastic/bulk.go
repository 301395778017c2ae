package elastic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Meta is the action line of a bulk request.
type Meta struct {
	Type        string `json:"_type,omitempty"`
	ID          string `json:"_id"`
	Version     *int64 `json:"version,omitempty"`
	VersionType string `json:"version_type,omitempty"`
}

// BulkBody accumulates newline-delimited bulk actions.
type BulkBody struct {
	buf     bytes.Buffer
	actions int
}

func (b *BulkBody) Index(meta Meta, doc interface{}) error {
	line, err := json.Marshal(map[string]Meta{"index": meta})
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", meta.ID, err)
	}

	b.buf.Grow(len(line) + len(data) + 2)
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	b.buf.Write(data)
	b.buf.WriteByte('\n')
	b.actions++
	return nil
}

// Delete appends a delete action. Version fields are not sent for deletes.
func (b *BulkBody) Delete(meta Meta) error {
	line, err := json.Marshal(map[string]Meta{"delete": {Type: meta.Type, ID: meta.ID}})
	if err != nil {
		return err
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	b.actions++
	return nil
}

func (b *BulkBody) Len() int {
	return b.actions
}

func (b *BulkBody) Bytes() []byte {
	return b.buf.Bytes()
}
