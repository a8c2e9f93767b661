package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidURL       ErrorCode = "validation_invalid_url"
	ErrCodeValidationInvalidBody      ErrorCode = "validation_invalid_body"
	ErrCodeValidationInvalidPlan      ErrorCode = "validation_invalid_plan"
	ErrCodeValidationSignatureInvalid ErrorCode = "validation_signature_invalid"
	ErrCodeValidationMalformedEvent   ErrorCode = "validation_malformed_event"

	// Auth (401)
	ErrCodeAuthTokenMissing   ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid   ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired   ErrorCode = "auth_token_expired"
	ErrCodeAuthTokenRevoked   ErrorCode = "auth_token_revoked"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundUser         ErrorCode = "not_found_user"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"

	// Conflict (409 unless mapped below)
	ErrCodeConflictConcurrent      ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictStoreContention ErrorCode = "conflict_store_contention"

	// Internal/Upstream (500/502/503)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue         ErrorCode = "internal_queue_error"
	ErrCodeUpstreamStripe        ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamGatewayReject ErrorCode = "upstream_gateway_rejected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeConflictStoreContention):
		// The gateway treats any non-2xx as "redeliver later".
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Returns "" when err carries no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// NewSignatureInvalidError reports a webhook whose signature could not be
// verified against the raw request body.
func NewSignatureInvalidError(err error) *AppError {
	msg := "webhook signature verification failed"
	if err != nil {
		msg = err.Error()
	}
	return NewAppError(ErrCodeValidationSignatureInvalid, msg, err)
}

// NewInvalidPlanError reports a plan name that has no configured price.
func NewInvalidPlanError(plan string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationInvalidPlan,
		fmt.Sprintf("invalid plan %q", plan),
		nil,
		map[string]any{"plan": plan},
	)
}

// NewMalformedEventError reports an authenticated event that lacks fields
// required to act on it. Such events are acknowledged, never retried.
func NewMalformedEventError(eventID, reason string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationMalformedEvent,
		reason,
		nil,
		map[string]any{"event_id": eventID},
	)
}

// NewUnmappedEventError reports an event that references no local record.
func NewUnmappedEventError(eventID, key string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeNotFoundSubscription,
		"no subscription record matches event",
		nil,
		map[string]any{"event_id": eventID, "lookup_key": key},
	)
}

// NewStoreConflictError reports that compare-and-set retries were exhausted.
func NewStoreConflictError(userID string, attempts int) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeConflictStoreContention,
		"subscription record is being modified concurrently",
		nil,
		map[string]any{"user_id": userID, "attempts": attempts},
	)
}

// IsTransient reports whether err should be surfaced to the gateway as a
// redeliverable failure rather than acknowledged.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConflictStoreContention, ErrCodeInternalDB, ErrCodeInternalQueue:
		return true
	case "":
		return err != nil
	default:
		return false
	}
}
