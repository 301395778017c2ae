package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moonwalker/searchindex/pkg/indexer"
	"github.com/moonwalker/searchindex/pkg/search"
	"github.com/moonwalker/searchindex/pkg/worker"
)

const (
	QueueMissingMetadata = "missing_metadata"

	pageSize    = 200
	maxPages    = 52
	maxAttempts = 3
)

var ErrMissingDocument = errors.New("missing document")

// MetadataFields are the fields the backfill fills in from the publishing
// API.
var MetadataFields = []string{"content_store_document_type", "publishing_app", "rendering_app", "content_id"}

type PublishingAPI interface {
	LookupContentID(ctx context.Context, basePath string) (string, error)
	GetContent(ctx context.Context, contentID string) (map[string]interface{}, error)
}

// MetadataFetcher copies publishing metadata onto indexed documents by
// queueing amend jobs.
type MetadataFetcher struct {
	API   PublishingAPI
	Queue worker.Enqueuer
	// RetryDelay is the pause after a publishing API timeout.
	RetryDelay time.Duration
}

func NewMetadataFetcher(api PublishingAPI, queue worker.Enqueuer) *MetadataFetcher {
	return &MetadataFetcher{API: api, Queue: queue, RetryDelay: time.Second}
}

// AddMetadata looks up the content item behind a search result and queues an
// amendment of its index entry.
func (f *MetadataFetcher) AddMetadata(ctx context.Context, result search.Result) error {
	if result.Index == "" || result.ID == "" {
		return fmt.Errorf("%w: missing index name or id in search result", ErrMissingDocument)
	}

	contentID, _ := result.Fields["content_id"].(string)
	if contentID == "" {
		basePath := result.ID
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		err := f.retry(ctx, "lookup", func() error {
			var err error
			contentID, err = f.API.LookupContentID(ctx, basePath)
			return err
		})
		if err != nil {
			return err
		}
		if contentID == "" {
			return fmt.Errorf("%w: failed to look up base path %s", ErrMissingDocument, basePath)
		}
	}

	var item map[string]interface{}
	err := f.retry(ctx, "content", func() error {
		var err error
		item, err = f.API.GetContent(ctx, contentID)
		return err
	})
	if err != nil {
		return err
	}

	return f.Queue.EnqueueJob(indexer.AmendJob(result.Index, result.ID, map[string]interface{}{
		"content_store_document_type": item["document_type"],
		"publishing_app":              item["publishing_app"],
		"rendering_app":               item["rendering_app"],
		"content_id":                  contentID,
	}))
}

// retry repeats fn after timeouts, up to maxAttempts calls.
func (f *MetadataFetcher) retry(ctx context.Context, call string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
		slog.Warn("Publishing API timed out, retrying",
			"call", call,
			"attempt", attempt,
		)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.RetryDelay):
		}
	}
	return err
}

// Searcher is the search path the backfill pages through.
type Searcher interface {
	Run(ctx context.Context, params search.Parameters) (*search.ResultSet, error)
}

// MissingMetadata finds indexed documents without a metadata field and
// backfills them.
type MissingMetadata struct {
	Searcher Searcher
	Fetcher  *MetadataFetcher
}

// Update backfills every document missing field. Per-document failures are
// logged and skipped. It returns the number of documents queued for amendment.
func (m *MissingMetadata) Update(ctx context.Context, field string) (int, error) {
	results, err := m.missing(ctx, field)
	if err != nil {
		return 0, err
	}

	updated := 0
	for i, r := range results {
		slog.Info("Updating metadata",
			"field", field,
			"id", r.ID,
			"progress", fmt.Sprintf("%d/%d", i+1, len(results)),
		)
		if err := m.Fetcher.AddMetadata(ctx, r); err != nil {
			slog.Warn("Skipped result",
				"err", err.Error(),
				"index", r.Index,
				"id", r.ID,
			)
			continue
		}
		updated++
	}
	return updated, nil
}

func (m *MissingMetadata) missing(ctx context.Context, field string) ([]search.Result, error) {
	var out []search.Result
	for page := 0; page < maxPages; page++ {
		params, err := search.ParseParameters(url.Values{
			"filter_" + field: {search.MissingValue},
			"count":           {strconv.Itoa(pageSize)},
			"start":           {strconv.Itoa(page * pageSize)},
			"fields":          {"content_id"},
		})
		if err != nil {
			return nil, err
		}

		set, err := m.Searcher.Run(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(set.Results) == 0 {
			break
		}
		for _, r := range set.Results {
			// external links have no content item
			if strings.HasPrefix(r.ID, "https://") || strings.HasPrefix(r.ID, "http://") {
				slog.Debug("Skipping external link", "index", r.Index, "id", r.ID)
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

type missingArgs struct {
	Fields []string `json:"fields"`
}

// MissingMetadataJob is the periodic sweep over fields, MetadataFields when
// none are given.
func MissingMetadataJob(cron string, fields ...string) *worker.Job {
	if len(fields) == 0 {
		fields = MetadataFields
	}
	return worker.NewPeriodicJob(QueueMissingMetadata, cron, worker.Args{"fields": fields})
}

// Handle runs a backfill job.
func (m *MissingMetadata) Handle(ctx context.Context, job worker.Job) error {
	var a missingArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}
	if len(a.Fields) == 0 {
		a.Fields = MetadataFields
	}
	for _, field := range a.Fields {
		n, err := m.Update(ctx, field)
		if err != nil {
			return fmt.Errorf("backfill of %s failed: %w", field, err)
		}
		slog.Info("Metadata backfill done", "field", field, "updated", n)
	}
	return nil
}
