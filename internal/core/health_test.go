package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func runHealth(t *testing.T, probes ...HealthProbe) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.Config.Build.Version = "v1.2.3"
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, body
}

func healthy(context.Context) error { return nil }

func TestHandleHealth_NoProbes(t *testing.T) {
	rec, body := runHealth(t)
	if rec.Code != http.StatusOK || body.Status != "healthy" || body.Version != "v1.2.3" {
		t.Errorf("status=%d body=%+v", rec.Code, body)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	rec, body := runHealth(t, NewProbe("database", healthy), NewProbe("redis", healthy))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, name := range []string{"database", "redis"} {
		if body.Components[name].Status != "healthy" {
			t.Errorf("%s = %+v", name, body.Components[name])
		}
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	rec, body := runHealth(t,
		NewProbe("database", func(context.Context) error { return errors.New("connection refused") }),
		NewProbe("redis", healthy),
	)
	if rec.Code != http.StatusServiceUnavailable || body.Status != "unhealthy" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}
	if body.Components["database"].Message != "connection refused" {
		t.Errorf("database = %+v", body.Components["database"])
	}
	if body.Components["redis"].Status != "healthy" {
		t.Errorf("redis = %+v", body.Components["redis"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	rec, body := runHealth(t, NewProbe("redis", func(context.Context) error { panic("nil client") }))
	if rec.Code != http.StatusServiceUnavailable || body.Components["redis"].Status != "unhealthy" {
		t.Errorf("status=%d body=%+v", rec.Code, body)
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health timeout")
	}
	slow := NewProbe("database", func(ctx context.Context) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			// Outlive the handler deadline so the result arrives too late.
			time.Sleep(100 * time.Millisecond)
			return ctx.Err()
		}
	})

	start := time.Now()
	rec, body := runHealth(t, slow)
	if time.Since(start) > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v", time.Since(start))
	}
	if rec.Code != http.StatusServiceUnavailable || body.Components["database"].Status != "unhealthy" {
		t.Errorf("status=%d body=%+v", rec.Code, body)
	}
}
