// Package main implements subsyncctl, the operator CLI for the subscription
// sync service.
//
// Usage:
//
//	subsyncctl migrate [--dry-run]
//	subsyncctl show --user <id>
//	subsyncctl replay --file events.json [--store memory|postgres] [--user <id>...]
//	subsyncctl sign --file event.json [--secret whsec_...]
//
// Database commands read DATABASE_URL and the DB_* pool variables, the same
// ones the API uses. sign reads STRIPE_WEBHOOK_SECRET when --secret is unset.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"subsync/internal/config"
)

// options is shared by every subcommand.
type options struct {
	logLevel string
}

func (o *options) logger(w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(o.logLevel))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// cliConfig is the environment subset the CLI reads.
type cliConfig struct {
	Database      config.DatabaseConfig
	WebhookSecret config.SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

func loadCLIConfig() (*cliConfig, error) {
	var cfg cliConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "subsyncctl",
		Short:         "Operator tools for the subscription sync service",
		Version:       config.NewBuildInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd(opts))
	root.AddCommand(showCmd(opts))
	root.AddCommand(replayCmd(opts))
	root.AddCommand(signCmd())

	return root
}
