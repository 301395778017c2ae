package index

import (
	"errors"
	"fmt"

	"github.com/moonwalker/searchindex/pkg/elastic"
)

var (
	ErrNotFound         = elastic.ErrNotFound
	ErrElasticsearch    = elastic.ErrElasticsearch
	ErrVersionConflict  = errors.New("version conflict")
	ErrProtocolMismatch = errors.New("bulk response item count does not match request")
)

// ResponseError describes a bulk item with an unexpected status.
type ResponseError struct {
	ActionType string
	Status     int
	Details    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch %s failed with status %d: %s", e.ActionType, e.Status, e.Details)
}

func (e *ResponseError) Unwrap() error {
	return ErrElasticsearch
}

// MismatchError is returned when a cluster answers with a different number of
// items than were sent.
type MismatchError struct {
	Cluster string
	Got     int
	Want    int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("cluster %s returned %d items for %d actions", e.Cluster, e.Got, e.Want)
}

func (e *MismatchError) Unwrap() error {
	return ErrProtocolMismatch
}

// CheckCounts fails when any response does not carry exactly want items.
func CheckCounts(responses []*elastic.BulkResponse, want int) error {
	for _, r := range responses {
		if len(r.Items) != want {
			return &MismatchError{Cluster: r.Cluster, Got: len(r.Items), Want: want}
		}
	}
	return nil
}
