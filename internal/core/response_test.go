package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"subsync/internal/types"
)

func TestJSON_WritesBodyAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]bool{"received": true})

	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("status=%d content-type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if strings.TrimSpace(rec.Body.String()) != `{"received":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestJSON_UnmarshalableFallsBackTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"invalid plan", types.NewInvalidPlanError("Gold"), http.StatusBadRequest, types.ErrCodeValidationInvalidPlan},
		{"signature", types.NewSignatureInvalidError(errors.New("bad sig")), http.StatusBadRequest, types.ErrCodeValidationSignatureInvalid},
		{"contention", types.NewStoreConflictError("U1", 5), http.StatusServiceUnavailable, types.ErrCodeConflictStoreContention},
		{"wrapped", errors.Join(errors.New("ctx"), types.NewAppError(types.ErrCodeNotFoundUser, "no user", nil)), http.StatusNotFound, types.ErrCodeNotFoundUser},
		{"plain", errors.New("pq: connection refused"), http.StatusInternalServerError, types.ErrCodeInternalUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-9"))
			rec := httptest.NewRecorder()
			Error(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body APIErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != string(tt.wantCode) || body.Error.RequestID != "req-9" {
				t.Errorf("error = %+v", body.Error)
			}
			if strings.Contains(rec.Body.String(), "connection refused") {
				t.Error("internal error text leaked to client")
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		PlanName string `json:"planName"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"planName":"Pro"}`, false},
		{"empty", ``, true},
		{"syntax", `{"planName":`, true},
		{"unknown field", `{"planName":"Pro","extra":1}`, true},
		{"wrong type", `{"planName":5}`, true},
		{"two values", `{"planName":"Pro"} {"planName":"Pro"}`, true},
		{"too large", `{"planName":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if tt.wantErr {
				if !types.HasCode(err, types.ErrCodeValidationInvalidBody) {
					t.Errorf("expected invalid body error, got %v", err)
				}
				return
			}
			if err != nil || dst.PlanName != "Pro" {
				t.Errorf("err=%v dst=%+v", err, dst)
			}
		})
	}
}
