package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/indexer"
)

// popularityCmd queues popularity refresh jobs for every document of an
// index. The workers apply them.
func popularityCmd(envName *string) *cobra.Command {
	var (
		indexName string
		batch     int
	)

	cmd := &cobra.Command{
		Use:   "update-popularity",
		Short: "Queue popularity refreshes for every document of an index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*envName)
			if err != nil {
				return err
			}
			if indexName == "" {
				indexName = a.cfg.Indices.Govuk
			}
			d := a.dispatcher()
			defer d.Close()

			n, err := indexer.QueuePopularityUpdates(cmd.Context(), elastic.NewIndexClient(indexName, a.pool), d, indexName, batch)
			if err != nil {
				return err
			}
			slog.Info("Queued popularity updates", "index", indexName, "jobs", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&indexName, "index", "", "index to refresh, defaults to the govuk index")
	cmd.Flags().IntVar(&batch, "batch", indexer.DefaultPopularityBatch, "documents per job")
	return cmd
}
