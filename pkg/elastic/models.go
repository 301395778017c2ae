package elastic

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

type SearchHit struct {
	Index     string              `json:"_index"`
	Type      string              `json:"_type"`
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Fields    json.RawMessage     `json:"fields,omitempty"`
	Highlight map[string][]string `json:"highlight,omitempty"`
	Sort      []interface{}       `json:"sort,omitempty"`
}

type SearchTotal struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts both the object form and the legacy integer form.
func (t *SearchTotal) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	if r.Type == gjson.Number {
		t.Value = int(r.Int())
		t.Relation = "eq"
		return nil
	}
	t.Value = int(r.Get("value").Int())
	t.Relation = r.Get("relation").String()
	return nil
}

type SearchHits struct {
	Total    SearchTotal `json:"total"`
	MaxScore float64     `json:"max_score"`
	Hits     []SearchHit `json:"hits"`
}

type Shards struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type SearchResult struct {
	Took         int             `json:"took"`
	TimedOut     bool            `json:"timed_out"`
	Shards       Shards          `json:"_shards"`
	Hits         SearchHits      `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
	Suggest      json.RawMessage `json:"suggest,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type GetResult struct {
	Index   string          `json:"_index"`
	Type    string          `json:"_type"`
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Found   bool            `json:"found"`
	Source  json.RawMessage `json:"_source"`
}

// BulkItem is the outcome of a single action in a bulk request.
type BulkItem struct {
	ActionType string
	ID         string
	Status     int
	Error      json.RawMessage
	Details    json.RawMessage
}

func (i BulkItem) Reason() string {
	return gjson.GetBytes(i.Error, "reason").String()
}

func (i BulkItem) Locked() bool {
	return len(i.Error) > 0 && IsLockReason(i.Reason())
}

func (i BulkItem) Failed() bool {
	return i.Status < 200 || i.Status >= 400
}

// BulkResponse holds one cluster's answer to a bulk request, items in
// request order.
type BulkResponse struct {
	Cluster string
	Took    int
	Errors  bool
	Items   []BulkItem
}

// Failures returns the items whose status is outside 200-399.
func (r *BulkResponse) Failures() []BulkItem {
	var out []BulkItem
	for _, it := range r.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}
