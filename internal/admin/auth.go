package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/rs/zerolog"
)

// TokenAuthMiddleware rejects requests that do not carry the operator bearer token.
func TokenAuthMiddleware(token string, logger zerolog.Logger) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			scheme, presented, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || presented == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Msg("Rejected admin request with invalid token")
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware counts every operator request against the caller's
// address bucket before the token is checked, so token guessing is throttled
// like any other traffic.
func RateLimitMiddleware(limiter *ratelimit.Limiter, addressHeaders []string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := ratelimit.ClientAddress(r, addressHeaders)

			result, err := limiter.Check(r.Context(), address)
			if err != nil {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to rate limit admin request")
				writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}
			if !result.Allowed {
				logger.Warn().
					Str("path", r.URL.Path).
					Dur("retry_after", result.RetryAfter).
					Msg("Rate limited admin request")
				w.Header().Set("Retry-After", ratelimit.RetryAfterHeader(result.RetryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
