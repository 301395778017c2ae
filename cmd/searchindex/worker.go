package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/moonwalker/searchindex/pkg/content"
	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/emailalert"
	"github.com/moonwalker/searchindex/pkg/indexer"
	"github.com/moonwalker/searchindex/pkg/metrics"
	"github.com/moonwalker/searchindex/pkg/publishing"
	"github.com/moonwalker/searchindex/pkg/worker"
)

func workerCmd(envName *string) *cobra.Command {
	var noConsumer bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job dispatcher and the publishing event consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*envName)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runWorker(ctx, !noConsumer)
		},
	}
	cmd.Flags().BoolVar(&noConsumer, "no-consumer", false, "only process queued jobs, do not read publishing events")
	return cmd
}

func (a *app) runWorker(ctx context.Context, consume bool) error {
	cfg := a.cfg

	d := a.dispatcher()
	defer d.Close()

	alerts := emailalert.New(cfg.Services.EmailAlertAPI, cfg.Services.EmailAlertAPIToken)
	popularity := &indexer.PopularityLookup{
		Traffic: elastic.NewIndexClient(cfg.Indices.PageTraffic, a.pool),
		Offset:  cfg.Elasticsearch.PopularityOffset,
	}
	documents := func(name string) indexer.DocumentIndex { return elastic.NewIndexClient(name, a.pool) }
	workers := &indexer.Workers{
		Indices:      elastic.NewResolver(cfg.Indices, a.pool),
		Queue:        d,
		Notifier:     a.notifier,
		Alerts:       alerts,
		LockDelay:    cfg.Worker.LockDelay(),
		MaxAttempts:  cfg.Worker.MaxAttempts,
		Documents:    documents,
		Popularities: popularity,
		Metrics:      a.sink,
		Payload: func(document, metadata map[string]interface{}) map[string]interface{} {
			return emailalert.Payload(document, metadata, time.Now())
		},
	}
	workers.Register(d)
	d.OnFailure(workers.Exhausted)
	d.OnFinish(metrics.ObserveJob)

	govuk := publishing.NewGovukHandler(elastic.Govuk(cfg.Indices, a.pool), a.sink, a.notifier, cfg.Publishing)
	d.AddHandler(publishing.QueueGovuk, govuk.Job)
	d.AddHandler(publishing.QueueGovukBulk, govuk.Job)
	finders := publishing.NewSpecialistFinderHandler(elastic.SpecialistFinder(cfg.Indices, a.pool), a.sink, a.notifier)
	d.AddHandler(publishing.QueueSpecialistFinder, finders.Job)

	backfill := &content.MissingMetadata{
		Searcher: a.searcher,
		Fetcher:  content.NewMetadataFetcher(content.NewClient(cfg.Services.PublishingAPI, cfg.Services.PublishingAPIToken), d),
	}
	d.AddHandler(content.QueueMissingMetadata, backfill.Handle)
	if err := d.EnqueueJob(content.MissingMetadataJob(cfg.Worker.MetadataCron)); err != nil {
		return err
	}

	if consume {
		stopConsumers, err := a.startConsumers(ctx, d)
		if err != nil {
			return err
		}
		defer stopConsumers()
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Serving metrics", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "err", err.Error())
		}
	}()

	slog.Info("Worker started",
		"namespace", cfg.Worker.Namespace,
		"max_workers", cfg.Worker.MaxWorkers,
	)
	d.Run(ctx)
	slog.Info("Worker stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dispatcher connects to the job queues. Jobs that set no retry budget get
// the configured one.
func (a *app) dispatcher() *worker.Dispatcher {
	d := worker.NewDispatcher(a.cfg.Worker.Namespace, a.cfg.Worker.RedisURL, a.cfg.Worker.MaxWorkers)
	d.DefaultRetry = a.cfg.Worker.JobRetries
	return d
}

func (a *app) startConsumers(ctx context.Context, q worker.Enqueuer) (func(), error) {
	cfg := a.cfg
	nc, err := publishing.Connect(cfg.Nats)
	if err != nil {
		return nil, err
	}

	consumers := []struct {
		subject, durable string
		processor        *publishing.Processor
	}{
		{cfg.Nats.Subject, cfg.Nats.Durable, &publishing.Processor{
			Queue:         q,
			Notifier:      a.notifier,
			JobQueue:      publishing.QueueGovuk,
			BulkQueue:     publishing.QueueGovukBulk,
			MaxDeliveries: cfg.Publishing.MaxDeliveries,
			RetryDelay:    cfg.Publishing.RetryDelay(),
		}},
		{cfg.Nats.FinderSubject, cfg.Nats.FinderDurable, &publishing.Processor{
			Queue:         q,
			Notifier:      a.notifier,
			JobQueue:      publishing.QueueSpecialistFinder,
			MaxDeliveries: cfg.Publishing.MaxDeliveries,
			RetryDelay:    cfg.Publishing.RetryDelay(),
		}},
	}

	var running []jetstream.ConsumeContext
	stop := func() {
		for _, cc := range running {
			cc.Stop()
		}
		nc.Close()
	}
	for _, c := range consumers {
		consumer, err := publishing.NewConsumer(nc, cfg.Nats.Stream, c.subject, c.durable)
		if err != nil {
			stop()
			return nil, err
		}
		cc, err := consumer.Start(ctx, c.processor)
		if err != nil {
			stop()
			return nil, err
		}
		running = append(running, cc)
	}
	return stop, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}
