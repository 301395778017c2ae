package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moonwalker/searchindex/pkg/cluster"
	"github.com/moonwalker/searchindex/pkg/config"
	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/env"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/metasearch"
	"github.com/moonwalker/searchindex/pkg/metrics"
	"github.com/moonwalker/searchindex/pkg/search"
)

func main() {
	envName := env.Name()

	root := &cobra.Command{
		Use:          "searchindex",
		Short:        "Search indexing workers and relevance tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envName, "env", envName, "config environment, reads config/<env>.yaml (env ENV)")

	root.AddCommand(workerCmd(&envName), evaluateCmd(&envName), backfillCmd(&envName), popularityCmd(&envName))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the collaborators every command shares.
type app struct {
	cfg      config.Config
	pool     *elastic.Pool
	sink     *metrics.Prometheus
	notifier errtrack.Notifier
	searcher *search.Searcher
}

func setup(envName string) (*app, error) {
	cfg, err := config.Load(envName)
	if err != nil {
		return nil, err
	}
	setupLogger(envName, cfg.Logging.Level)

	registry, err := cluster.FromConfig(cfg.Clusters)
	if err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	pool := elastic.NewPool(registry, elastic.Options{
		Timeout:    cfg.Elasticsearch.Timeout(),
		MaxRetries: cfg.Elasticsearch.MaxRetries,
	})

	if err := metrics.Register(nil); err != nil {
		return nil, err
	}
	sink := metrics.NewPrometheus()

	notifier := errtrack.Multi{errtrack.Log{}}
	if cfg.SMTP.Host != "" {
		notifier = append(notifier, errtrack.NewMailer(cfg.SMTP))
	}

	bets := metasearch.New(elastic.Metasearch(cfg.Indices, pool), sink, notifier)
	// cached for the life of the process
	checker := search.NewChecker(bets, 0)

	slog.Info("Loaded config",
		"env", envName,
		"clusters", registry.Keys(),
		"default_cluster", registry.Default().Key,
	)

	return &app{
		cfg:      cfg,
		pool:     pool,
		sink:     sink,
		notifier: notifier,
		searcher: search.NewSearcher(cfg, pool, checker),
	}, nil
}

func setupLogger(envName, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.HasPrefix(envName, "prod") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
