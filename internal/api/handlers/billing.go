package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/core"
	"subsync/internal/types"
)

// CheckoutStarter opens a hosted checkout session for an intent.
type CheckoutStarter interface {
	Initiate(ctx context.Context, intent types.CheckoutIntent) (string, error)
}

// SubscriptionReader reads a user's current record.
type SubscriptionReader interface {
	Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error)
}

// CreateCheckoutRequest is the body of POST /v1/billing/checkout-session.
// Presence and URL checks belong to the initiator so that an unknown plan
// is reported before a bad URL; the tags only bound sizes.
type CreateCheckoutRequest struct {
	PlanName   string `json:"planName" validate:"max=64"`
	SuccessURL string `json:"successUrl" validate:"max=2048"`
	CancelURL  string `json:"cancelUrl" validate:"max=2048"`
}

// CheckoutResponse carries the hosted checkout URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// SubscriptionResponse is the caller's view of their record.
type SubscriptionResponse struct {
	Plan                   types.PlanName           `json:"plan"`
	Status                 types.SubscriptionStatus `json:"status"`
	ExternalSubscriptionID string                   `json:"externalSubscriptionId,omitempty"`
	StartDate              *time.Time               `json:"startDate,omitempty"`
	UpdatedAt              *time.Time               `json:"updatedAt,omitempty"`
}

// BillingHandler serves the authenticated billing endpoints.
type BillingHandler struct {
	checkout  CheckoutStarter
	subs      SubscriptionReader
	validator *core.Validator
	rateLimit func(http.Handler) http.Handler
	logger    *slog.Logger
}

// NewBillingHandler creates the handler. rateLimit wraps checkout creation
// only and may be nil.
func NewBillingHandler(
	checkout CheckoutStarter,
	subs SubscriptionReader,
	validator *core.Validator,
	rateLimit func(http.Handler) http.Handler,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = core.NewValidator(logger)
	}
	return &BillingHandler{
		checkout:  checkout,
		subs:      subs,
		validator: validator,
		rateLimit: rateLimit,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing routes on the /v1 router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		create := http.Handler(http.HandlerFunc(h.CreateCheckoutSession))
		if h.rateLimit != nil {
			create = h.rateLimit(create)
		}
		r.Method(http.MethodPost, "/checkout-session", create)
		r.Get("/subscription", h.GetSubscription)
	})
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
// The user comes from the session, never from the body.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.ID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	url, err := h.checkout.Initiate(r.Context(), types.CheckoutIntent{
		UserID:     actor.ID,
		Plan:       types.PlanName(req.PlanName),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CheckoutResponse{URL: url})
}

// GetSubscription handles GET /v1/billing/subscription.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.ID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	rec, err := h.subs.Get(r.Context(), actor.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load subscription", "user_id", actor.ID, "error", err)
		if types.CodeOf(err) == "" {
			err = types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
		}
		core.Error(w, r, err)
		return
	}
	if rec == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
		return
	}

	resp := SubscriptionResponse{
		Plan:                   rec.Plan,
		Status:                 rec.Status,
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		StartDate:              rec.StartDate,
	}
	if !rec.UpdatedAt.IsZero() {
		updated := rec.UpdatedAt
		resp.UpdatedAt = &updated
	}
	core.JSON(w, r, http.StatusOK, resp)
}
