package billing

import (
	"context"
	"log/slog"
	"net/url"

	"subsync/internal/types"
)

// CheckoutGateway creates hosted checkout sessions at the payment provider.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, userID string, plan types.PlanName, successURL, cancelURL string) (string, error)
}

// CheckoutInitiator starts a checkout for an authenticated user. It never
// touches subscription state; the record changes only when the gateway
// reports the completed checkout through a webhook.
type CheckoutInitiator struct {
	gateway CheckoutGateway
	catalog PlanCatalog
	logger  *slog.Logger
}

func NewCheckoutInitiator(gateway CheckoutGateway, catalog PlanCatalog, logger *slog.Logger) *CheckoutInitiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutInitiator{gateway: gateway, catalog: catalog, logger: logger}
}

// Initiate validates intent and returns the redirect URL of a new session.
func (c *CheckoutInitiator) Initiate(ctx context.Context, intent types.CheckoutIntent) (string, error) {
	if intent.UserID == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	if !c.catalog.HasPlan(intent.Plan) {
		return "", types.NewInvalidPlanError(string(intent.Plan)).
			WithDetails(map[string]any{"allowed": c.catalog.Names()})
	}
	for _, f := range []struct{ field, raw string }{
		{"successUrl", intent.SuccessURL},
		{"cancelUrl", intent.CancelURL},
	} {
		field, raw := f.field, f.raw
		if raw == "" {
			return "", types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, field+" is required", nil,
				map[string]any{"field": field})
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidURL, field+" must be an absolute URL", err,
				map[string]any{"field": field})
		}
	}

	redirect, err := c.gateway.CreateCheckoutSession(ctx, intent.UserID, intent.Plan, intent.SuccessURL, intent.CancelURL)
	if err != nil {
		c.logger.WarnContext(ctx, "checkout session creation failed",
			"user_id", intent.UserID,
			"plan", string(intent.Plan),
			"error", err,
		)
		return "", err
	}

	c.logger.InfoContext(ctx, "checkout session created", "user_id", intent.UserID, "plan", string(intent.Plan))
	return redirect, nil
}
