package publishing

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Consumer feeds a durable JetStream consumer into a Processor.
type Consumer struct {
	js      jetstream.JetStream
	stream  string
	subject string
	durable string
}

func NewConsumer(nc *nats.Conn, stream, subject, durable string) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &Consumer{js: js, stream: stream, subject: subject, durable: durable}, nil
}

// Start consumes until the returned context is stopped. Acks are left to
// the processor; redelivery is capped there, not by the server.
func (c *Consumer) Start(ctx context.Context, p *Processor) (jetstream.ConsumeContext, error) {
	stream, err := c.js.Stream(ctx, c.stream)
	if err != nil {
		return nil, err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Consuming publishing events",
		"stream", c.stream,
		"subject", c.subject,
		"durable", c.durable,
	)
	return cons.Consume(func(msg jetstream.Msg) {
		p.Process(ctx, msg)
	})
}
