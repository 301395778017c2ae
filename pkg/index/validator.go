package index

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/metrics"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAlreadyDeleted
	OutcomeVersionConflict
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyDeleted:
		return "already_deleted"
	case OutcomeVersionConflict:
		return "version_conflict"
	default:
		return "failed"
	}
}

// Validator classifies bulk items and records metrics under
// "<namespace>.elasticsearch.<event>".
type Validator struct {
	Namespace string
	Metrics   metrics.Sink
	Notifier  errtrack.Notifier
}

func (v Validator) increment(event string) {
	if v.Metrics != nil {
		v.Metrics.Increment(fmt.Sprintf("%s.elasticsearch.%s", v.Namespace, event))
	}
}

func classify(item elastic.BulkItem) Outcome {
	switch {
	case item.Status >= 200 && item.Status < 400:
		return OutcomeSuccess
	case item.ActionType == "delete" && item.Status == http.StatusNotFound:
		return OutcomeAlreadyDeleted
	case item.Status == http.StatusConflict:
		return OutcomeVersionConflict
	default:
		return OutcomeFailed
	}
}

// Validate is the strict check. A delete of a missing document returns
// ErrNotFound, and every status other than 200-399 returns an error.
func (v Validator) Validate(item elastic.BulkItem) (Outcome, error) {
	outcome := classify(item)
	switch outcome {
	case OutcomeSuccess:
		v.increment(item.ActionType)
		return outcome, nil
	case OutcomeAlreadyDeleted:
		slog.Info("Document already deleted",
			"namespace", v.Namespace,
			"id", item.ID,
		)
		v.increment("already_deleted")
		return outcome, fmt.Errorf("%w: %s", ErrNotFound, item.ID)
	default:
		v.increment(item.ActionType + "_error")
		return OutcomeFailed, &ResponseError{
			ActionType: item.ActionType,
			Status:     item.Status,
			Details:    string(item.Details),
		}
	}
}

// Valid is the lenient check used for message batches. Missing documents on
// delete and version conflicts count as success. Other failures are reported
// to the notifier and return false.
func (v Validator) Valid(item elastic.BulkItem) bool {
	switch classify(item) {
	case OutcomeSuccess:
		v.increment(item.ActionType)
		return true
	case OutcomeAlreadyDeleted:
		slog.Info("Document already deleted",
			"namespace", v.Namespace,
			"id", item.ID,
		)
		v.increment("already_deleted")
		return true
	case OutcomeVersionConflict:
		slog.Info("Version conflict, newer version already indexed",
			"namespace", v.Namespace,
			"id", item.ID,
		)
		v.increment("version_conflict")
		return true
	}

	v.increment(item.ActionType + "_error")
	err := &ResponseError{ActionType: item.ActionType, Status: item.Status, Details: string(item.Details)}
	slog.Error("Unexpected bulk item status",
		"err", err.Error(),
		"namespace", v.Namespace,
		"id", item.ID,
	)
	if v.Notifier != nil {
		v.Notifier.Notify(err, errtrack.Extra{
			"action_type": item.ActionType,
			"status":      item.Status,
			"details":     string(item.Details),
		})
	}
	return false
}
