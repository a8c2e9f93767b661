package core

import (
	"context"
	"time"

	"subsync/internal/types"
)

// Authenticator resolves a bearer token to the Actor it belongs to.
//
// Implementations return auth_token_invalid for unknown or malformed tokens,
// auth_token_revoked for revoked ones and auth_session_expired once the
// session is past its expiry.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult is the outcome of one IncrementAndCheck call.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
