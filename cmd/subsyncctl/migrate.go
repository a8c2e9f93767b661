package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"subsync/internal/db"
)

func migrateCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		Long: `Apply every embedded schema migration that is not yet recorded in
schema_migrations. Already-applied versions are skipped.

Examples:
  subsyncctl migrate
  subsyncctl migrate --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if dryRun {
				migrations, err := db.Migrations()
				if err != nil {
					return fmt.Errorf("reading migrations: %w", err)
				}
				fmt.Fprintf(out, "%d embedded migrations:\n", len(migrations))
				for _, m := range migrations {
					fmt.Fprintf(out, "  %s\n", m.Version)
				}
				return nil
			}

			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool, opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied %s\n", v)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list embedded migrations without connecting")
	return cmd
}
