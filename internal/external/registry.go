package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"subsync/internal/config"
	"subsync/internal/types"
)

// CheckoutCreator opens hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, userID string, plan types.PlanName, successURL, cancelURL string) (string, error)
}

// EventParser authenticates and decodes webhook deliveries.
type EventParser interface {
	VerifyAndParse(rawBody []byte, signatureHeader string) (types.RawGatewayEvent, error)
}

// ClientRegistry holds the payment gateway clients built from configuration.
type ClientRegistry struct {
	Checkout CheckoutCreator
	Webhooks EventParser
	// Stub reports whether Checkout is the local stub.
	Stub bool
}

// NewClientRegistry builds the gateway clients.
//
// With APP_ENV=local and a secret key that is not a Stripe key (no "sk_"
// prefix) checkout creation is stubbed. Webhook verification always uses the
// real Stripe scheme with the configured signing secret.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Billing.StripeWebhookSecret.IsSet() {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}

	prices := cfg.Billing.PlanPrices()
	gateway := NewStripeGateway(&http.Client{Timeout: 20 * time.Second}, &StripeVerifier{}, StripeGatewayConfig{
		SecretKey:     cfg.Billing.StripeSecretKey.Unmask(),
		WebhookSecret: cfg.Billing.StripeWebhookSecret.Unmask(),
		BaseURL:       cfg.Billing.StripeAPIBase,
		PlanPrices:    prices,
		Logger:        logger.With("client", "stripe"),
	})

	reg := &ClientRegistry{Checkout: gateway, Webhooks: gateway}

	if cfg.Environment == "local" && !strings.HasPrefix(cfg.Billing.StripeSecretKey.Unmask(), "sk_") {
		logger.Info("initializing checkout gateway in STUB mode", "environment", cfg.Environment)
		reg.Checkout = NewStubCheckoutGateway(prices, logger.With("mode", "stub"))
		reg.Stub = true
		return reg, nil
	}

	logger.Info("initializing Stripe gateway",
		"environment", cfg.Environment,
		"plans", strings.Join(cfg.Billing.PlanNames(), ","),
	)
	return reg, nil
}
