package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"subsync/internal/types"
)

const (
	defaultRateLimitMax    = 10
	defaultRateLimitWindow = time.Minute
)

// RateLimit returns a per-user fixed-window limiter for one route. The
// counter key is "<scope>:<user id>". Limits come from the Redis section of
// the config.
//
// The limiter fails open: with no store, no actor, or a store error the
// request proceeds.
func (s *Server) RateLimit(scope string) func(http.Handler) http.Handler {
	limit, window := s.rateLimitSettings()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.RateLimitStore == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor, ok := types.GetActor(r.Context())
			if !ok || actor.ID == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), scope+":"+actor.ID, limit, window)
			if err != nil {
				s.Logger.ErrorContext(r.Context(), "rate limit store error",
					slog.String("user_id", actor.ID),
					slog.String("scope", scope),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, limit, result)

			if !result.Allowed {
				s.Logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("user_id", actor.ID),
					slog.String("scope", scope),
				)

				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
					Error: ErrorDetail{
						Code:      string(types.ErrCodeRateLimit),
						Message:   "Rate limit exceeded. Please retry after the reset time.",
						RequestID: types.GetRequestID(r.Context()),
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimitSettings() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Redis.CheckoutRateLimit > 0 {
			limit = s.Config.Redis.CheckoutRateLimit
		}
		if s.Config.Redis.CheckoutRateWindow > 0 {
			window = s.Config.Redis.CheckoutRateWindow
		}
	}
	return limit, window
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
