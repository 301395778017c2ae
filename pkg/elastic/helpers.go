package elastic

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// responseError turns an error response body into an error wrapping
// ErrIndexLocked, ErrNotFound or ErrElasticsearch.
func responseError(msg string, status int, body []byte) error {
	e := gjson.GetBytes(body, "error")
	errType := e.Get("type").String()
	reason := e.Get("reason").String()
	if e.Type == gjson.String {
		reason = e.String()
	}

	kind := ErrElasticsearch
	switch {
	case IsLockReason(reason):
		kind = ErrIndexLocked
	case status == http.StatusNotFound:
		kind = ErrNotFound
	}
	return fmt.Errorf("%w: %s: [%d] %s: %s", kind, msg, status, errType, reason)
}

func parseBulkResponse(data []byte) (*BulkResponse, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: failed to parse bulk response body", ErrElasticsearch)
	}

	r := gjson.ParseBytes(data)
	resp := &BulkResponse{
		Took:   int(r.Get("took").Int()),
		Errors: r.Get("errors").Bool(),
	}

	// each item is a single-key object: {"<action>": {...}}
	r.Get("items").ForEach(func(_, item gjson.Result) bool {
		item.ForEach(func(action, detail gjson.Result) bool {
			bi := BulkItem{
				ActionType: action.String(),
				ID:         detail.Get("_id").String(),
				Status:     int(detail.Get("status").Int()),
				Details:    json.RawMessage(detail.Raw),
			}
			if e := detail.Get("error"); e.Exists() {
				bi.Error = json.RawMessage(e.Raw)
			}
			resp.Items = append(resp.Items, bi)
			return false
		})
		return true
	})

	return resp, nil
}
