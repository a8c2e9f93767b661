package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"subsync/internal/billing"
	"subsync/internal/config"
	"subsync/internal/db"
	"subsync/internal/external"
	"subsync/internal/types"
)

// replayStore is what replay needs beyond the engine's contract.
type replayStore interface {
	billing.SubscriptionStore
	EnsureUser(ctx context.Context, userID string) error
}

func replayCmd(opts *options) *cobra.Command {
	var (
		file    string
		backend string
		users   []string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply Stripe events from a file through the reconciliation engine",
		Long: `Replay Stripe event envelopes (a single object or a JSON array) through
the normalizer and engine, in file order, without signature verification.

With --store memory (the default) nothing is persisted: users named with
--user start inactive and the final records are printed. With --store
postgres the events are applied to DATABASE_URL.

Examples:
  subsyncctl replay --file testdata/lifecycle.json --user U1
  subsyncctl replay --file dump.json --store postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := opts.logger(cmd.ErrOrStderr())

			envelopes, err := readEnvelopes(file)
			if err != nil {
				return err
			}

			var store replayStore
			var memory *db.MemoryStore
			switch backend {
			case config.StoreBackendMemory:
				memory = db.NewMemoryStore()
				store = memory
			case config.StoreBackendPostgres:
				cfg, err := loadCLIConfig()
				if err != nil {
					return err
				}
				pool, err := db.NewPool(ctx, cfg.Database)
				if err != nil {
					return err
				}
				defer pool.Close()
				store = db.NewSubscriptionStore(pool, logger)
			default:
				return fmt.Errorf("unknown store %q (want memory or postgres)", backend)
			}

			for _, u := range users {
				if err := store.EnsureUser(ctx, u); err != nil {
					return fmt.Errorf("seeding user %s: %w", u, err)
				}
			}

			engine := billing.NewEngine(store, billing.EngineConfig{Logger: logger})
			failed, err := replay(ctx, engine, envelopes, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if memory != nil {
				if err := printRecords(ctx, memory, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d events failed with transient errors", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with Stripe events")
	cmd.Flags().StringVar(&backend, "store", config.StoreBackendMemory, "store backend (memory or postgres)")
	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "user ids to create before replaying")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readEnvelopes accepts a single event object or an array of them.
func readEnvelopes(path string) ([]json.RawMessage, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	if body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return list, nil
	}
	return []json.RawMessage{body}, nil
}

// replay applies each envelope and writes one row per event. It returns the
// number of events that hit a transient error.
func replay(ctx context.Context, engine *billing.Engine, envelopes []json.RawMessage, out io.Writer) (int, error) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tTYPE\tOUTCOME\tUSER\tSTATUS\tNOTE")

	failed := 0
	for i, env := range envelopes {
		raw, err := external.ParseEvent(env)
		if err != nil {
			fmt.Fprintf(tw, "#%d\t-\t%s\t-\t-\t%v\n", i, billing.OutcomeMalformed, err)
			continue
		}

		res, err := engine.Apply(ctx, billing.Normalize(raw))
		user, status, note := "-", "-", ""
		if res.Record != nil {
			user, status = res.Record.UserID, string(res.Record.Status)
		}
		if err != nil {
			note = err.Error()
			if types.IsTransient(err) {
				failed++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", raw.ID, raw.Type, res.Outcome, user, status, note)
	}
	return failed, tw.Flush()
}

func printRecords(ctx context.Context, store *db.MemoryStore, out io.Writer) error {
	records := make([]*types.SubscriptionRecord, 0)
	for _, id := range store.UserIDs() {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	fmt.Fprintln(out)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
