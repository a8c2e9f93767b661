package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v82/webhook"

	"subsync/internal/external"
)

func signCmd() *cobra.Command {
	var (
		file   string
		secret string
		at     int64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a Stripe-Signature header for a local webhook payload",
		Long: `Sign a payload file with the webhook signing secret so it can be posted
to /webhooks/stripe of a local API. The file is signed byte for byte; post
it unchanged.

Example:
  curl -X POST localhost:8080/webhooks/stripe \
    -H "$(subsyncctl sign --file event.json)" --data-binary @event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := loadCLIConfig()
				if err != nil {
					return err
				}
				secret = cfg.WebhookSecret.Unmask()
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set STRIPE_WEBHOOK_SECRET")
			}

			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload:   payload,
				Secret:    secret,
				Timestamp: ts,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", external.SignatureHeader, signed.Header)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file to sign")
	cmd.Flags().StringVar(&secret, "secret", "", "webhook signing secret (default $STRIPE_WEBHOOK_SECRET)")
	cmd.Flags().Int64Var(&at, "timestamp", 0, "unix timestamp to sign at (default now)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
