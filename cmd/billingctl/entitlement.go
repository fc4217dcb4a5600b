package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dukerupert/memberhub/internal/domain"
)

func entitlementCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "entitlement [tenant-id]",
		Short: "Show a tenant's plan and subscription state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			store, _, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			ent, err := store.Get(ctx, tenantID)
			if err != nil {
				return err
			}
			return printEntitlement(cmd.OutOrStdout(), ent, asJSON)
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	return cmd
}

func printEntitlement(w io.Writer, ent domain.TenantEntitlement, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ent)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "tenant\t%s\n", ent.TenantID)
	fmt.Fprintf(tw, "plan\t%s\n", ent.Plan)
	fmt.Fprintf(tw, "status\t%s\n", ent.Status)
	fmt.Fprintf(tw, "customer\t%s\n", valueOrDash(ent.ProcessorCustomerID))
	fmt.Fprintf(tw, "subscription\t%s\n", valueOrDash(ent.ProcessorSubscriptionID))
	fmt.Fprintf(tw, "period\t%s\n", formatPeriod(ent.PeriodStart, ent.PeriodEnd))
	if ent.CancelAt != nil {
		fmt.Fprintf(tw, "cancel at\t%s\n", ent.CancelAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "updated\t%s\n", ent.UpdatedAt.Format(time.RFC3339Nano))
	return tw.Flush()
}

func formatPeriod(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return "-"
	}
	return start.Format(time.DateOnly) + " .. " + end.Format(time.DateOnly)
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
