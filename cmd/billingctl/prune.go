package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/memberhub/internal/billing"
)

func pruneEventsCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune-events",
		Short: "Delete processed-event markers past the retention window",
		Long: `Delete processed-event markers older than the retention window.

Markers must outlive the processor's redelivery window, or a late
redelivery is applied twice. The default comes from DEDUP_RETENTION.

Examples:
  billingctl prune-events
  billingctl prune-events --retention 1440h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, cfg, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if !cmd.Flags().Changed("retention") {
				retention = cfg.Dedup.Retention
			}

			before, err := store.CountMarkers(ctx)
			if err != nil {
				return err
			}
			deleted, err := billing.NewDeduplicator(store, retention, nil).Prune(ctx, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d markers older than %s\n", deleted, before, retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", billing.DefaultMarkerRetention, "keep markers newer than this")

	return cmd
}
