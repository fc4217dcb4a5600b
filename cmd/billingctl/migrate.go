package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/dukerupert/memberhub/internal"
)

func migrateCmd() *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded SQL migrations to DATABASE_URL.

Examples:
  billingctl migrate
  billingctl migrate --status
  billingctl migrate --down`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", cfg.DatabaseUrl)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			switch {
			case status:
			case down:
				if err := internal.RollbackMigration(db); err != nil {
					return err
				}
			default:
				if err := internal.RunMigrations(db); err != nil {
					return err
				}
			}

			version, err := internal.MigrationVersion(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version without migrating")
	cmd.MarkFlagsMutuallyExclusive("down", "status")

	return cmd
}
