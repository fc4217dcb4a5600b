// Command billingctl is the operator CLI for the memberhub billing core.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dukerupert/memberhub/internal"
	"github.com/dukerupert/memberhub/internal/postgres"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the memberhub subscription billing core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pruneEventsCmd())
	rootCmd.AddCommand(entitlementCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

// openStore connects to the database named by the environment. The returned
// function closes the pool.
func openStore(ctx context.Context) (*postgres.EntitlementStore, *internal.Config, func(), error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger := internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel)
	return postgres.NewEntitlementStore(pool, nil, logger), cfg, pool.Close, nil
}
