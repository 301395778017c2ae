// Package indexer holds the background jobs that write to search indices.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/metrics"
	"github.com/moonwalker/searchindex/pkg/worker"
)

const (
	QueueAmend                      = "amend"
	QueueBulkIndex                  = "bulk_index"
	QueueDelete                     = "delete"
	QueueMetadataTaggerNotification = "metadata_tagger_notification"

	DefaultLockDelay   = 60 * time.Second
	DefaultMaxAttempts = 5
)

var (
	ErrFailedJob   = errors.New("failed job")
	ErrInvalidArgs = worker.ErrInvalidArgs
)

type IndexResolver interface {
	Index(name string) (elastic.Writer, error)
}

type AlertSender interface {
	SendAlert(ctx context.Context, payload map[string]interface{}) error
}

// Registrar is the part of the dispatcher that accepts handlers.
type Registrar interface {
	AddHandler(queue string, fn worker.HandlerFunc)
}

type Workers struct {
	Indices     IndexResolver
	Queue       worker.Enqueuer
	Notifier    errtrack.Notifier
	Alerts      AlertSender
	LockDelay   time.Duration
	MaxAttempts int

	// Documents opens a named index for the popularity job.
	Documents    func(name string) DocumentIndex
	Popularities *PopularityLookup
	Metrics      metrics.Sink

	// Payload builds the email alert for a tagged document.
	Payload func(document, metadata map[string]interface{}) map[string]interface{}
}

func (w *Workers) Register(r Registrar) {
	r.AddHandler(QueueAmend, w.Amend)
	r.AddHandler(QueueBulkIndex, w.BulkIndex)
	r.AddHandler(QueueDelete, w.Delete)
	r.AddHandler(QueueMetadataTaggerNotification, w.MetadataTaggerNotification)
	r.AddHandler(QueuePopularity, w.Popularity)
}

type amendArgs struct {
	Index   string                 `json:"index"`
	Link    string                 `json:"link"`
	Updates map[string]interface{} `json:"updates"`
}

type bulkIndexArgs struct {
	Index     string             `json:"index"`
	Documents []elastic.Document `json:"documents"`
}

type deleteArgs struct {
	Index string `json:"index"`
	Type  string `json:"type"`
	ID    string `json:"id"`
}

type notificationArgs struct {
	Document map[string]interface{} `json:"document"`
	Metadata map[string]interface{} `json:"metadata"`
}

func AmendJob(index, link string, updates map[string]interface{}) *worker.Job {
	return worker.NewJob(QueueAmend, worker.Args{"index": index, "link": link, "updates": updates})
}

func BulkIndexJob(index string, documents []elastic.Document) *worker.Job {
	return worker.NewJob(QueueBulkIndex, worker.Args{"index": index, "documents": documents})
}

func DeleteJob(index, docType, id string) *worker.Job {
	return worker.NewJob(QueueDelete, worker.Args{"index": index, "type": docType, "id": id})
}

func MetadataTaggerNotificationJob(document, metadata map[string]interface{}) *worker.Job {
	return worker.NewJob(QueueMetadataTaggerNotification, worker.Args{"document": document, "metadata": metadata})
}

func (w *Workers) Amend(ctx context.Context, job worker.Job) error {
	var a amendArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}

	slog.Info("Amending document",
		"index", a.Index,
		"link", a.Link,
		"fields", fieldNames(a.Updates),
	)
	slog.Debug("Amendment values",
		"link", a.Link,
		"updates", a.Updates,
	)

	idx, err := w.Indices.Index(a.Index)
	if err != nil {
		return err
	}
	return w.lockRetry(job, idx.Amend(ctx, a.Link, a.Updates))
}

func (w *Workers) BulkIndex(ctx context.Context, job worker.Job) error {
	var a bulkIndexArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}

	slog.Info("Bulk indexing documents",
		"index", a.Index,
		"count", len(a.Documents),
	)

	idx, err := w.Indices.Index(a.Index)
	if err != nil {
		return err
	}
	return w.lockRetry(job, idx.BulkIndex(ctx, a.Documents))
}

func (w *Workers) Delete(ctx context.Context, job worker.Job) error {
	var a deleteArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}

	slog.Info("Deleting document",
		"index", a.Index,
		"type", a.Type,
		"id", a.ID,
	)

	idx, err := w.Indices.Index(a.Index)
	if err != nil {
		return err
	}
	return w.lockRetry(job, idx.Delete(ctx, a.Type, a.ID))
}

func (w *Workers) MetadataTaggerNotification(ctx context.Context, job worker.Job) error {
	var a notificationArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}

	slog.Info("Sending metadata tagger notification",
		"link", a.Document["link"],
	)

	return w.Alerts.SendAlert(ctx, w.Payload(a.Document, a.Metadata))
}

// Exhausted reports a job the dispatcher gave up on.
func (w *Workers) Exhausted(job worker.Job, err error) {
	w.Notifier.Notify(fmt.Errorf("%w: %s: %v", ErrFailedJob, job.Queue, err), errtrack.Extra{
		"job_id": job.ID,
		"queue":  job.Queue,
		"args":   job.Args,
	})
}

// lockRetry reschedules a job whose index was locked. The attempt number
// travels in the job arguments. Once MaxAttempts runs have hit the lock the
// failure is reported and the job is dropped.
func (w *Workers) lockRetry(job worker.Job, err error) error {
	if err == nil || !errors.Is(err, elastic.ErrIndexLocked) {
		return err
	}

	attempt := Attempt(job.Args)
	if attempt >= w.maxAttempts() {
		slog.Error("Index still locked, giving up",
			"err", err.Error(),
			"queue", job.Queue,
			"id", job.ID,
			"attempt", attempt,
		)
		w.Exhausted(job, err)
		return nil
	}

	args := make(worker.Args, len(job.Args)+1)
	for k, v := range job.Args {
		args[k] = v
	}
	args["attempt"] = attempt + 1

	next := worker.NewScheduledJob(job.Queue, w.lockDelay(), args)
	next.ID = job.ID
	next.Retry = job.Retry

	slog.Info("Index locked, rescheduling",
		"queue", job.Queue,
		"id", job.ID,
		"attempt", attempt+1,
		"delay", w.lockDelay().String(),
	)
	return w.Queue.EnqueueJob(next)
}

func (w *Workers) lockDelay() time.Duration {
	if w.LockDelay > 0 {
		return w.LockDelay
	}
	return DefaultLockDelay
}

func (w *Workers) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Attempt returns the run number carried in job arguments, starting at 1.
func Attempt(args worker.Args) int {
	switch v := args["attempt"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 1
}

func fieldNames(updates map[string]interface{}) []string {
	names := make([]string, 0, len(updates))
	for k := range updates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
