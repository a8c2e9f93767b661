package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"subsync/internal/db"
)

func showCmd(opts *options) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a user's subscription record as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			rec, err := db.NewSubscriptionStore(pool, opts.logger(cmd.ErrOrStderr())).Get(ctx, userID)
			if err != nil {
				return fmt.Errorf("reading subscription: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("user %q not found", userID)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
