// Package auth resolves bearer session tokens to actors for the HTTP layer.
// Sessions are issued by the account service; subsync only reads them.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"subsync/internal/types"
)

// SessionTokenPrefix marks session bearer tokens.
const SessionTokenPrefix = "sess_"

// SessionRepo defines the data access methods needed by the authenticator.
type SessionRepo interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string.
// The hash is what the sessions table stores and is searched by.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionAuthenticator implements core.Authenticator over the sessions table.
type SessionAuthenticator struct {
	repo   SessionRepo
	clock  types.Clock
	logger *slog.Logger
}

func NewSessionAuthenticator(repo SessionRepo, clock types.Clock, logger *slog.Logger) *SessionAuthenticator {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionAuthenticator{repo: repo, clock: clock, logger: logger}
}

// ResolveToken maps a bearer token to the user it was issued to.
//
// Error codes: auth_token_invalid for unknown or malformed tokens,
// auth_token_revoked for revoked sessions and auth_session_expired once
// expires_at has passed.
func (a *SessionAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if !strings.HasPrefix(token, SessionTokenPrefix) || len(token) == len(SessionTokenPrefix) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unrecognized token format", nil)
	}

	session, err := a.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}

	if session.RevokedAt != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenRevoked, "session has been revoked", nil)
	}
	if !a.clock.Now().Before(session.ExpiresAt) {
		a.logger.InfoContext(ctx, "session expired",
			"session_id", session.ID,
			"expired_at", session.ExpiresAt,
		)
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	return &types.Actor{
		ID:        session.UserID,
		Type:      types.ActorTypeUser,
		SessionID: session.ID,
	}, nil
}

// CryptoTokenGenerator mints session tokens for the operator CLI.
type CryptoTokenGenerator struct {
	SessionIDPrefix string
}

func NewCryptoTokenGenerator() *CryptoTokenGenerator {
	return &CryptoTokenGenerator{SessionIDPrefix: SessionTokenPrefix}
}

// GenerateSessionToken returns a random token. Format: prefix + 64 hex chars.
func (g *CryptoTokenGenerator) GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return g.SessionIDPrefix + hex.EncodeToString(b), nil
}

// NewSession builds a session for userID valid for ttl and returns it with
// the raw token, which is never stored.
func NewSession(gen *CryptoTokenGenerator, userID string, ttl time.Duration, now time.Time) (*types.Session, string, error) {
	token, err := gen.GenerateSessionToken()
	if err != nil {
		return nil, "", err
	}
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", fmt.Errorf("generate session id: %w", err)
	}
	return &types.Session{
		ID:        "ses_" + hex.EncodeToString(idBytes),
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, token, nil
}
