package publishing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/moonwalker/searchindex/pkg/config"
	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/index"
	"github.com/moonwalker/searchindex/pkg/metrics"
	"github.com/moonwalker/searchindex/pkg/worker"
)

const (
	NamespaceGovuk            = "govuk_index"
	NamespaceSpecialistFinder = "specialist_finder_index"

	QueueGovuk            = "publishing_event"
	QueueGovukBulk        = "publishing_event_bulk"
	QueueSpecialistFinder = "specialist_finder_publishing_event"
)

var (
	ErrValidation = errors.New("invalid publishing payload")
	// ErrRetry fails a batch so every message in it is processed again.
	ErrRetry = errors.New("elasticsearch failures")
)

type action int

const (
	actionIndex action = iota
	actionDelete
	actionSkip
)

// router decides what happens to a presentable message. reason is logged
// for skipped messages.
type router func(p Presenter) (a action, reason string)

// Handler applies batches of publishing messages to one index.
type Handler struct {
	Namespace string
	Client    index.BulkClient
	Metrics   metrics.Sink
	Notifier  errtrack.Notifier
	route     router
}

// NewGovukHandler indexes the formats listed as indexable and skips
// non-English pages, except Welsh HMRC contacts.
func NewGovukHandler(client index.BulkClient, sink metrics.Sink, notifier errtrack.Notifier, cfg config.PublishingConfig) *Handler {
	return &Handler{
		Namespace: NamespaceGovuk,
		Client:    client,
		Metrics:   sink,
		Notifier:  notifier,
		route: func(p Presenter) (action, string) {
			switch {
			case p.Unpublishing():
				return actionDelete, ""
			case slices.Contains(cfg.NonIndexableFormats, p.Format()):
				return actionSkip, "non-indexable"
			case p.Locale() != "en" && !(p.DocumentType() == "hmrc_contact" && p.Locale() == "cy"):
				return actionSkip, "non-english, and not Welsh HMRC contact"
			case slices.Contains(cfg.IndexableFormats, p.Format()):
				return actionIndex, ""
			}
			return actionSkip, "unknown"
		},
	}
}

// NewSpecialistFinderHandler indexes every finder except email signup
// pages.
func NewSpecialistFinderHandler(client index.BulkClient, sink metrics.Sink, notifier errtrack.Notifier) *Handler {
	return &Handler{
		Namespace: NamespaceSpecialistFinder,
		Client:    client,
		Metrics:   sink,
		Notifier:  notifier,
		route: func(p Presenter) (action, string) {
			switch {
			case p.DocumentType() == "finder_email_signup":
				return actionSkip, "ignored"
			case p.Unpublishing():
				return actionDelete, ""
			}
			return actionIndex, ""
		},
	}
}

type messagesArgs struct {
	Messages []Message `json:"messages"`
}

// Job runs a queued batch.
func (h *Handler) Job(ctx context.Context, job worker.Job) error {
	var a messagesArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}
	h.increment("consumed")
	if err := h.Process(ctx, a.Messages); err != nil {
		h.increment("job-retry")
		return err
	}
	return nil
}

// Process writes a batch in one bulk request per cluster and validates
// every response.
func (h *Handler) Process(ctx context.Context, messages []Message) error {
	p := index.NewProcessor(h.Client)
	for _, m := range messages {
		h.processAction(p, m)
	}

	responses, err := p.Commit(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range responses {
		if err := h.processResponse(r, p.Len()); err != nil {
			if errors.Is(err, index.ErrProtocolMismatch) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) processAction(p *index.Processor, m Message) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		h.notify(fmt.Errorf("%w: %s", ErrValidation, err), m)
		return
	}
	slog.Debug("Processing message", "routing_key", m.RoutingKey, "payload", string(data))

	presenter := NewPresenter(data)
	if err := presenter.Valid(); err != nil {
		if !slices.Contains(withoutBasePathTypes, presenter.DocumentType()) {
			h.notify(err, m)
		}
		return
	}

	a, reason := h.route(presenter)
	switch a {
	case actionDelete:
		slog.Info("DELETE",
			"routing_key", m.RoutingKey,
			"link", presenter.Link(),
			"document_type", presenter.DocumentType(),
		)
		p.Delete(presenter)
	case actionIndex:
		slog.Info("INDEX",
			"routing_key", m.RoutingKey,
			"link", presenter.Link(),
			"document_type", presenter.DocumentType(),
		)
		p.Save(presenter)
	default:
		slog.Info("SKIPPED",
			"routing_key", m.RoutingKey,
			"link", presenter.Link(),
			"document_type", presenter.DocumentType(),
			"reason", reason,
		)
		if reason == "unknown" {
			h.increment("unknown-document-type")
		}
	}
}

func (h *Handler) processResponse(r *elastic.BulkResponse, want int) error {
	if len(r.Items) > 1 {
		h.increment("elasticsearch.multiple_responses")
	}
	if err := index.CheckCounts([]*elastic.BulkResponse{r}, want); err != nil {
		return err
	}

	validator := index.Validator{Namespace: h.Namespace, Metrics: h.Metrics, Notifier: h.Notifier}
	failed := 0
	for _, item := range r.Items {
		if !validator.Valid(item) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d failed on %s", ErrRetry, failed, want, r.Cluster)
	}
	return nil
}

func (h *Handler) notify(err error, m Message) {
	slog.Error("Unprocessable message",
		"err", err.Error(),
		"namespace", h.Namespace,
		"routing_key", m.RoutingKey,
	)
	if h.Notifier != nil {
		h.Notifier.Notify(err, errtrack.Extra{"message_body": m.Payload, "routing_key": m.RoutingKey})
	}
}

func (h *Handler) increment(event string) {
	if h.Metrics != nil {
		h.Metrics.Increment(h.Namespace + "." + event)
	}
}
