package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subsync/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeGatewayConfig holds what the gateway adapter needs from configuration.
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string // defaults to stripeAPIBase
	PlanPrices    map[types.PlanName]string
	Logger        *slog.Logger
}

// StripeGateway creates hosted checkout sessions over the Stripe REST API
// and authenticates incoming webhook deliveries.
type StripeGateway struct {
	base          *BaseClient
	verifier      WebhookVerifier
	secretKey     string
	webhookSecret string
	baseURL       string
	prices        map[types.PlanName]string
	logger        *slog.Logger
}

// NewStripeGateway builds a gateway with Stripe's retry profile (two retries,
// 500ms to 5s). A nil verifier uses StripeVerifier with default tolerance.
func NewStripeGateway(httpClient *http.Client, verifier WebhookVerifier, cfg StripeGatewayConfig) *StripeGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"subsync/1.0",
		WithLogger(logger),
	)
	return NewStripeGatewayWithBase(base, verifier, cfg)
}

// NewStripeGatewayWithBase builds a gateway on a pre-configured BaseClient.
func NewStripeGatewayWithBase(base *BaseClient, verifier WebhookVerifier, cfg StripeGatewayConfig) *StripeGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = &StripeVerifier{}
	}

	prices := make(map[types.PlanName]string, len(cfg.PlanPrices))
	for plan, price := range cfg.PlanPrices {
		prices[plan] = price
	}

	return &StripeGateway{
		base:          base,
		verifier:      verifier,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		prices:        prices,
		logger:        logger,
	}
}

// PriceFor returns the configured Stripe price ID for plan.
func (s *StripeGateway) PriceFor(plan types.PlanName) (string, bool) {
	price, ok := s.prices[plan]
	return price, ok && price != ""
}

// HasPlan reports whether plan is part of the configured catalog.
func (s *StripeGateway) HasPlan(plan types.PlanName) bool {
	_, ok := s.PriceFor(plan)
	return ok
}

// CreateCheckoutSession opens a subscription-mode Checkout Session and
// returns the hosted URL. userID and plan are written to the session and to
// subscription_data metadata so that both session and subscription events
// can be correlated back without a local lookup.
func (s *StripeGateway) CreateCheckoutSession(
	ctx context.Context,
	userID string,
	plan types.PlanName,
	successURL string,
	cancelURL string,
) (string, error) {
	priceID, ok := s.PriceFor(plan)
	if !ok {
		return "", types.NewInvalidPlanError(string(plan))
	}

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("payment_method_types[0]", "card")
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("client_reference_id", userID)
	params.Set("metadata["+MetadataUserID+"]", userID)
	params.Set("metadata["+MetadataPlan+"]", string(plan))
	params.Set("subscription_data[metadata]["+MetadataUserID+"]", userID)
	params.Set("subscription_data[metadata]["+MetadataPlan+"]", string(plan))

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe checkout session response",
			err,
		)
	}
	if session.URL == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "Stripe returned a checkout session without a URL", nil)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", userID,
		"plan", string(plan),
		"session_id", session.ID,
	)
	return session.URL, nil
}

// VerifyAndParse authenticates rawBody against the Stripe-Signature header
// and only then decodes the event envelope. Verification failures return
// a validation_signature_invalid error; an authenticated body that is not
// an event envelope returns validation_malformed_event.
func (s *StripeGateway) VerifyAndParse(rawBody []byte, signatureHeader string) (types.RawGatewayEvent, error) {
	if signatureHeader == "" {
		return types.RawGatewayEvent{}, types.NewSignatureInvalidError(errors.New("missing " + SignatureHeader + " header"))
	}
	if err := s.verifier.Verify(rawBody, signatureHeader, s.webhookSecret); err != nil {
		return types.RawGatewayEvent{}, types.NewSignatureInvalidError(err)
	}
	return ParseEvent(rawBody)
}

// ParseEvent decodes a Stripe event envelope without any signature check.
// Only trusted input (already verified, or an operator replay file) may be
// passed here.
func ParseEvent(rawBody []byte) (types.RawGatewayEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return types.RawGatewayEvent{}, types.NewAppError(
			types.ErrCodeValidationMalformedEvent,
			"webhook body is not a Stripe event",
			err,
		)
	}
	if event.ID == "" || event.Type == "" {
		return types.RawGatewayEvent{}, types.NewMalformedEventError(event.ID, "event envelope missing id or type")
	}

	raw := types.RawGatewayEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Created:  event.Created,
		Livemode: event.Livemode,
	}
	if event.Data != nil {
		raw.Object = event.Data.Raw
	}
	return raw, nil
}

func (s *StripeGateway) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *StripeGateway) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError converts a non-2xx Stripe reply. 4xx replies mean the
// request itself was rejected (bad price ID, bad URL) and are not retried.
func mapStripeError(operation string, statusCode int, body *stripeErrorBody) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, body.Message),
			nil,
		)
	case statusCode >= 400:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGatewayReject,
			fmt.Sprintf("%s: Stripe rejected request: %s", operation, body.Message),
			nil,
			map[string]any{
				"stripe_type":  body.Type,
				"stripe_code":  body.Code,
				"stripe_param": body.Param,
			},
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: unexpected Stripe status %d", operation, statusCode),
			nil,
		)
	}
}

func (s *StripeGateway) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// StripeVerifier checks HMAC-SHA256 Stripe signatures with a timestamp
// tolerance. A zero Tolerance uses the library default of five minutes.
type StripeVerifier struct {
	Tolerance time.Duration
}

// Verify validates payload against the signature header and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	if v.Tolerance > 0 {
		return webhook.ValidatePayloadWithTolerance(payload, header, secret, v.Tolerance)
	}
	return webhook.ValidatePayload(payload, header, secret)
}
