// Package handlers contains the HTTP handlers for the subscription API and
// the gateway webhook.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"subsync/internal/billing"
	"subsync/internal/core"
	"subsync/internal/external"
	"subsync/internal/types"
)

// defaultWebhookBodyLimit caps webhook payloads at 64 KB.
const defaultWebhookBodyLimit = 64 * 1024

// webhookErrorPrefix is prepended to every 400 message so that failed
// deliveries are recognisable in the gateway dashboard.
const webhookErrorPrefix = "Webhook Error: "

// EventVerifier authenticates a raw webhook body and returns its envelope.
type EventVerifier interface {
	VerifyAndParse(rawBody []byte, signatureHeader string) (types.RawGatewayEvent, error)
}

// WebhookAck is the body of every 200 response.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// StripeWebhookHandler receives gateway events. It sits outside bearer auth;
// the Stripe-Signature header over the raw body is the only credential.
type StripeWebhookHandler struct {
	verifier   EventVerifier
	dispatcher billing.EventDispatcher
	bodyLimit  int64
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates the handler. bodyLimit <= 0 uses 64 KB.
func NewStripeWebhookHandler(verifier EventVerifier, dispatcher billing.EventDispatcher, bodyLimit int64, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if bodyLimit <= 0 {
		bodyLimit = defaultWebhookBodyLimit
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		bodyLimit:  bodyLimit,
		logger:     logger,
	}
}

// RegisterRoutes mounts POST /stripe; the server places it under /webhooks.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle verifies, normalizes and dispatches one delivery.
//
// Every authenticated event is acknowledged with 200, including malformed,
// unmapped, duplicate and unrecognized ones, because redelivery cannot
// change their outcome. Only transient failures (store contention, database
// or queue outage) answer 503 so the gateway retries later.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "webhook payload too large", "limit", h.bodyLimit)
			h.reject(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "payload exceeds size limit", err))
			return
		}
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.reject(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "failed to read request body", err))
		return
	}

	raw, err := h.verifier.VerifyAndParse(payload, r.Header.Get(external.SignatureHeader))
	if types.HasCode(err, types.ErrCodeValidationMalformedEvent) {
		logger.WarnContext(ctx, "webhook event acknowledged without effect",
			"outcome", string(billing.OutcomeMalformed),
			"error", err,
		)
		core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, Outcome: string(billing.OutcomeMalformed)})
		return
	}
	if err != nil {
		logger.WarnContext(ctx, "webhook rejected",
			"error_code", string(types.CodeOf(err)),
			"error", err,
		)
		h.reject(w, r, err)
		return
	}

	evt := billing.Normalize(raw)
	res, err := h.dispatcher.Dispatch(ctx, evt)

	if err != nil && types.IsTransient(err) {
		logger.ErrorContext(ctx, "webhook event deferred for redelivery",
			"event_id", raw.ID,
			"event_type", raw.Type,
			"error", err,
		)
		core.JSON(w, r, http.StatusServiceUnavailable, core.APIErrorResponse{
			Error: core.ErrorDetail{
				Code:      string(types.CodeOf(err)),
				Message:   "event could not be applied, retry later",
				RequestID: types.GetRequestID(ctx),
			},
		})
		return
	}

	if err != nil {
		logger.WarnContext(ctx, "webhook event acknowledged without effect",
			"event_id", raw.ID,
			"event_type", raw.Type,
			"outcome", string(res.Outcome),
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, Outcome: string(res.Outcome)})
}

// reject writes a 400 whose message carries the webhook error prefix.
func (h *StripeWebhookHandler) reject(w http.ResponseWriter, r *http.Request, err error) {
	code := types.CodeOf(err)
	if code == "" {
		code = types.ErrCodeValidationInvalidBody
	}
	message := err.Error()
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	core.JSON(w, r, http.StatusBadRequest, core.APIErrorResponse{
		Error: core.ErrorDetail{
			Code:      string(code),
			Message:   webhookErrorPrefix + message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
