// Package publishing turns publishing events into writes on the govuk and
// specialist finder indices.
package publishing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/worker"
)

const (
	DefaultMaxDeliveries = 5
	DefaultRetryDelay    = 30 * time.Second

	bulkReindexSuffix = ".bulk.reindex"
)

// Message is one publishing event. It is encoded as a [routing_key, payload]
// pair in job arguments.
type Message struct {
	RoutingKey string
	Payload    map[string]interface{}
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{m.RoutingKey, m.Payload})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("message must be a [routing_key, payload] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &m.RoutingKey); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &m.Payload)
}

// Delivery is the part of a JetStream message the processor uses.
type Delivery interface {
	Subject() string
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
}

// Processor accepts deliveries from the consumer and queues them as jobs.
// Failed deliveries are redelivered after RetryDelay until MaxDeliveries,
// then reported and acked.
type Processor struct {
	Queue     worker.Enqueuer
	Notifier  errtrack.Notifier
	JobQueue  string
	BulkQueue string

	MaxDeliveries int
	RetryDelay    time.Duration
}

func (p *Processor) Process(ctx context.Context, d Delivery) {
	data := d.Data()
	contentID := gjson.GetBytes(data, "content_id").String()

	if externalWithoutURL(data) {
		slog.Info("Ignored due to missing details.url", "content_id", contentID)
		p.ack(d)
		return
	}
	if withoutBasePath(data) {
		slog.Info("Ignored due to no base_path", "content_id", contentID)
		p.ack(d)
		return
	}

	attempt := deliveries(d)
	slog.Info("Processing message",
		"content_id", contentID,
		"attempt", fmt.Sprintf("%d/%d", attempt, p.maxDeliveries()),
	)

	err := p.enqueue(RoutingKey(d.Subject()), data)
	if err == nil {
		p.ack(d)
		return
	}

	if attempt < p.maxDeliveries() {
		slog.Error("Scheduled for retry",
			"err", err.Error(),
			"content_id", contentID,
			"attempt", attempt,
		)
		if err := d.NakWithDelay(p.retryDelay()); err != nil {
			slog.Error("Failed to nak message", "err", err.Error(), "content_id", contentID)
		}
		return
	}

	slog.Error("Ignored after retries",
		"err", err.Error(),
		"content_id", contentID,
		"attempts", attempt,
	)
	if p.Notifier != nil {
		p.Notifier.Notify(err, errtrack.Extra{"message_body": string(data), "subject": d.Subject()})
	}
	p.ack(d)
}

func (p *Processor) enqueue(routingKey string, data []byte) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	queue := p.JobQueue
	if strings.HasSuffix(routingKey, bulkReindexSuffix) && p.BulkQueue != "" {
		queue = p.BulkQueue
	}
	job := MessagesJob(queue, []Message{{RoutingKey: routingKey, Payload: payload}})
	// a job gets as many runs as a delivery
	job.Retry = int64(p.maxDeliveries() - 1)
	if job.Retry == 0 {
		job.Retry = worker.NoRetry
	}
	return p.Queue.EnqueueJob(job)
}

func (p *Processor) ack(d Delivery) {
	if err := d.Ack(); err != nil {
		slog.Error("Failed to ack message", "err", err.Error(), "subject", d.Subject())
	}
}

func (p *Processor) maxDeliveries() int {
	if p.MaxDeliveries > 0 {
		return p.MaxDeliveries
	}
	return DefaultMaxDeliveries
}

func (p *Processor) retryDelay() time.Duration {
	if p.RetryDelay > 0 {
		return p.RetryDelay
	}
	return DefaultRetryDelay
}

// MessagesJob queues a batch of messages for a Handler.
func MessagesJob(queue string, messages []Message) *worker.Job {
	return worker.NewJob(queue, worker.Args{"messages": messages})
}

// RoutingKey drops the stream prefix from a subject:
// "published_documents.guide.major" is "guide.major".
func RoutingKey(subject string) string {
	if _, key, ok := strings.Cut(subject, "."); ok {
		return key
	}
	return subject
}

func deliveries(d Delivery) int {
	md, err := d.Metadata()
	if err != nil || md == nil || md.NumDelivered == 0 {
		return 1
	}
	return int(md.NumDelivered)
}

// external_content needs a details.url, everything else a base_path.
func externalWithoutURL(data []byte) bool {
	return gjson.GetBytes(data, "document_type").String() == "external_content" &&
		strings.TrimSpace(gjson.GetBytes(data, "details.url").String()) == ""
}

func withoutBasePath(data []byte) bool {
	return gjson.GetBytes(data, "document_type").String() != "external_content" &&
		strings.TrimSpace(gjson.GetBytes(data, "base_path").String()) == ""
}
