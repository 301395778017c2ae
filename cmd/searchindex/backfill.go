package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/moonwalker/searchindex/pkg/content"
)

// backfillCmd runs the metadata sweep once, queueing amend jobs for the
// workers.
func backfillCmd(envName *string) *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "backfill-metadata",
		Short: "Queue amendments for documents missing publishing metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*envName)
			if err != nil {
				return err
			}
			d := a.dispatcher()
			defer d.Close()

			m := &content.MissingMetadata{
				Searcher: a.searcher,
				Fetcher:  content.NewMetadataFetcher(content.NewClient(a.cfg.Services.PublishingAPI, a.cfg.Services.PublishingAPIToken), d),
			}
			if len(fields) == 0 {
				fields = content.MetadataFields
			}
			for _, field := range fields {
				n, err := m.Update(cmd.Context(), field)
				if err != nil {
					return err
				}
				slog.Info("Queued metadata amendments", "field", field, "documents", n)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "metadata field to backfill, repeatable")
	return cmd
}
