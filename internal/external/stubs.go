package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"subsync/internal/types"
)

// StubCheckoutGateway lets the API boot locally without Stripe credentials.
// It logs each call and returns a predictable hosted-checkout URL. Plans are
// still checked against the configured catalog.
//
// Webhook verification has no stub. Sign local deliveries with
// `subsyncctl sign`.
type StubCheckoutGateway struct {
	prices map[types.PlanName]string
	logger *slog.Logger
}

// NewStubCheckoutGateway creates a StubCheckoutGateway.
func NewStubCheckoutGateway(prices map[types.PlanName]string, logger *slog.Logger) *StubCheckoutGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubCheckoutGateway{prices: prices, logger: logger}
}

func (s *StubCheckoutGateway) CreateCheckoutSession(ctx context.Context, userID string, plan types.PlanName, successURL, cancelURL string) (string, error) {
	if _, ok := s.prices[plan]; !ok || plan == types.PlanNone {
		return "", types.NewInvalidPlanError(string(plan))
	}
	sessionID := "cs_stub_" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"user_id", userID,
		"plan", string(plan),
		"session_id", sessionID,
	)
	return fmt.Sprintf("https://checkout.stub.local/c/pay/%s?success_url=%s", sessionID, url.QueryEscape(successURL)), nil
}
