package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"subsync/internal/billing"
	"subsync/internal/types"
)

// findMetric returns the metric in family name whose labels include all of want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m
		}
	}
	return nil
}

func TestPrometheus_RecordEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg, "test")

	m.RecordEvent(types.EventCheckoutCompleted, billing.OutcomeApplied)
	m.RecordEvent(types.EventCheckoutCompleted, billing.OutcomeApplied)
	m.RecordEvent(types.EventPaymentFailed, billing.OutcomeDuplicate)

	got := findMetric(t, reg, "test_billing_webhook_events_total", map[string]string{"kind": "checkout_completed", "outcome": "applied"})
	if got == nil || got.GetCounter().GetValue() != 2 {
		t.Errorf("applied checkout counter = %v, want 2", got)
	}
	got = findMetric(t, reg, "test_billing_webhook_events_total", map[string]string{"kind": "payment_failed", "outcome": "duplicate"})
	if got == nil || got.GetCounter().GetValue() != 1 {
		t.Errorf("duplicate payment_failed counter = %v, want 1", got)
	}
}

func TestPrometheus_ConflictsAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg, "test")

	m.RecordConflict(types.EventSubscriptionCanceled)
	m.ObserveApply(types.EventSubscriptionCanceled, 25*time.Millisecond)

	if got := findMetric(t, reg, "test_billing_store_conflicts_total", map[string]string{"kind": "subscription_canceled"}); got == nil || got.GetCounter().GetValue() != 1 {
		t.Errorf("conflict counter = %v", got)
	}
	if got := findMetric(t, reg, "test_billing_apply_duration_seconds", nil); got == nil || got.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("apply histogram = %v", got)
	}
}

func TestPrometheus_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg, "test")

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/things/"+id, nil))
	}

	got := findMetric(t, reg, "test_http_requests_total", map[string]string{"route": "/v1/things/{id}", "status": "418"})
	if got == nil || got.GetCounter().GetValue() != 3 {
		t.Errorf("request counter = %v, want 3 under one route label", got)
	}
}

func TestPrometheus_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg, "test")

	defer func() {
		if recover() == nil {
			t.Error("registering the same collectors twice should panic")
		}
	}()
	NewPrometheus(reg, "test")
}
