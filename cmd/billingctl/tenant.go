package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	cmd.AddCommand(tenantCreateCmd())
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var name, slug string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant on the free plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			ent, err := store.CreateTenant(ctx, name, slug)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ent.TenantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&slug, "slug", "", "unique URL slug")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("slug")

	return cmd
}
