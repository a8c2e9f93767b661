package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"subsync/internal/billing"
	"subsync/internal/core"
	"subsync/internal/db"
	"subsync/internal/types"
)

type recordingGateway struct {
	calls []types.CheckoutIntent
	url   string
	err   error
}

func (g *recordingGateway) CreateCheckoutSession(_ context.Context, userID string, plan types.PlanName, successURL, cancelURL string) (string, error) {
	g.calls = append(g.calls, types.CheckoutIntent{UserID: userID, Plan: plan, SuccessURL: successURL, CancelURL: cancelURL})
	return g.url, g.err
}

func newBillingRouter(t *testing.T, gw *recordingGateway, store *db.MemoryStore, rateLimit func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	catalog := billing.NewStaticPlanCatalog(map[types.PlanName]string{
		types.PlanPro:        "price_pro",
		types.PlanEnterprise: "price_ent",
	})
	h := NewBillingHandler(
		billing.NewCheckoutInitiator(gw, catalog, discardLogger()),
		store,
		core.NewValidator(discardLogger()),
		rateLimit,
		discardLogger(),
	)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(types.WithActor(req.Context(), types.Actor{ID: userID, Type: types.ActorTypeUser}))
}

func postCheckout(router http.Handler, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/billing/checkout-session", strings.NewReader(body))
	if userID != "" {
		req = asUser(req, userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var body core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestCreateCheckoutSession_Success(t *testing.T) {
	gw := &recordingGateway{url: "https://checkout.stripe.com/c/pay/cs_1"}
	router := newBillingRouter(t, gw, db.NewMemoryStore(), nil)

	rec := postCheckout(router, "U1", `{"planName":"Pro","successUrl":"https://app.test/ok","cancelUrl":"https://app.test/cancel"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var resp CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != gw.url {
		t.Errorf("url = %q", resp.URL)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("gateway calls = %d", len(gw.calls))
	}
	want := types.CheckoutIntent{UserID: "U1", Plan: types.PlanPro, SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel"}
	if gw.calls[0] != want {
		t.Errorf("intent = %+v, want %+v", gw.calls[0], want)
	}
}

func TestCreateCheckoutSession_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"unknown plan", "U1", `{"planName":"Nonexistent","successUrl":"https://a.test","cancelUrl":"https://b.test"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidPlan},
		{"none plan", "U1", `{"planName":"none","successUrl":"https://a.test","cancelUrl":"https://b.test"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidPlan},
		{"missing success url", "U1", `{"planName":"Pro","cancelUrl":"https://b.test"}`, http.StatusBadRequest, types.ErrCodeValidationMissingField},
		{"relative cancel url", "U1", `{"planName":"Pro","successUrl":"https://a.test","cancelUrl":"/cancel"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidURL},
		{"unknown field", "U1", `{"planName":"Pro","userId":"U2"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidBody},
		{"oversized plan", "U1", `{"planName":"` + strings.Repeat("P", 65) + `","successUrl":"https://a.test","cancelUrl":"https://b.test"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidBody},
		{"unauthenticated", "", `{"planName":"Pro","successUrl":"https://a.test","cancelUrl":"https://b.test"}`, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &recordingGateway{url: "https://checkout.test"}
			rec := postCheckout(newBillingRouter(t, gw, db.NewMemoryStore(), nil), tt.userID, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorBody(t, rec).Code; got != string(tt.wantCode) {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if len(gw.calls) != 0 {
				t.Errorf("gateway called %d times for a rejected request", len(gw.calls))
			}
		})
	}
}

func TestCreateCheckoutSession_InvalidPlanListsAllowed(t *testing.T) {
	rec := postCheckout(newBillingRouter(t, &recordingGateway{}, db.NewMemoryStore(), nil), "U1",
		`{"planName":"Gold","successUrl":"https://a.test","cancelUrl":"https://b.test"}`)

	allowed, ok := errorBody(t, rec).Details["allowed"].([]any)
	if !ok || len(allowed) != 2 || allowed[0] != "Enterprise" || allowed[1] != "Pro" {
		t.Errorf("allowed = %v", errorBody(t, rec).Details["allowed"])
	}
}

func TestCreateCheckoutSession_GatewayFailure(t *testing.T) {
	gw := &recordingGateway{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "stripe down", errors.New("502"))}
	rec := postCheckout(newBillingRouter(t, gw, db.NewMemoryStore(), nil), "U1",
		`{"planName":"Enterprise","successUrl":"https://a.test","cancelUrl":"https://b.test"}`)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestCreateCheckoutSession_RateLimitWrapsOnlyCheckout(t *testing.T) {
	var limited []string
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited = append(limited, r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	store := db.NewMemoryStore()
	store.Put(types.NewInactiveRecord("U1"))
	router := newBillingRouter(t, &recordingGateway{}, store, limit)

	if rec := postCheckout(router, "U1", `{}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("checkout status = %d, want 429", rec.Code)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/billing/subscription", nil), "U1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("subscription status = %d, want 200", rec.Code)
	}
	if len(limited) != 1 {
		t.Errorf("limited paths = %v", limited)
	}
}

func TestGetSubscription(t *testing.T) {
	store := db.NewMemoryStore()
	start := testNow
	store.Put(types.SubscriptionRecord{
		UserID:                 "U1",
		Plan:                   types.PlanPro,
		Status:                 types.SubStatusPastDue,
		ExternalSubscriptionID: "sub_1",
		StartDate:              &start,
		LastEventSequence:      101,
		UpdatedAt:              testNow,
	})
	router := newBillingRouter(t, &recordingGateway{}, store, nil)

	req := asUser(httptest.NewRequest(http.MethodGet, "/billing/subscription", nil), "U1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SubscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Plan != types.PlanPro || resp.Status != types.SubStatusPastDue || resp.ExternalSubscriptionID != "sub_1" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.StartDate == nil || !resp.StartDate.Equal(testNow) {
		t.Errorf("start = %v", resp.StartDate)
	}
}

func TestGetSubscription_UnknownUser(t *testing.T) {
	router := newBillingRouter(t, &recordingGateway{}, db.NewMemoryStore(), nil)

	req := asUser(httptest.NewRequest(http.MethodGet, "/billing/subscription", nil), "ghost")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound || errorBody(t, rec).Code != string(types.ErrCodeNotFoundUser) {
		t.Errorf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}
