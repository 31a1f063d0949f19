package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goodtune/chatgate/internal/access"
	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/goodtune/chatgate/internal/reply"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	msgRateLimited  = "Too many requests. Please slow down."
	msgDailyLimit   = "Daily limit reached. Please try again tomorrow."
	msgUnavailable  = "Service temporarily unavailable. Please try again shortly."
	msgUpstream     = "Could not generate a reply. Please try again."
	msgInvalidBody  = "Request body must be a JSON object"
	msgEmptyMessage = "Message must not be empty"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat authorizes the caller, generates a reply and charges the exchange
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	decision, ok := s.authorize(w, r, req.SessionID)
	if !ok {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, msgEmptyMessage)
		return
	}
	if n := utf8.RuneCountInString(message); n > s.config.MaxMessageLength {
		writeError(w, http.StatusBadRequest, "Message is too long")
		return
	}

	history := reply.TrimHistory(req.ConversationHistory, s.config.HistoryLimit)

	start := time.Now()
	text, err := s.generator.GenerateReply(r.Context(), history, message)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Reply generation failed")
		writeError(w, http.StatusBadGateway, msgUpstream)
		return
	}

	// Charging failures do not fail the exchange
	remaining, err := s.controller.RecordCompletion(r.Context(), decision.SessionID, elapsed)
	if err != nil {
		logger.Error().
			Err(err).
			Str("session_prefix", storage.Redact(decision.SessionID)).
			Msg("Failed to record usage")
		remaining = decision.RemainingSeconds - s.controller.Cost(elapsed)
		if remaining < 0 {
			remaining = 0
		}
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Reply:            text,
		RemainingSeconds: remaining,
	})
}

// handleSession reports the caller's quota without generating anything
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	decision, ok := s.authorize(w, r, "")
	if !ok && decision.Outcome != access.DailyLimitReached {
		return
	}

	writeJSON(w, http.StatusOK, SessionStatus{
		RemainingSeconds:  decision.RemainingSeconds,
		DailyLimitSeconds: decision.LimitSeconds,
		ResetsAt:          decision.ResetsAt,
	})
}

// authorize runs the access controller and writes any rejection. A cookie is
// set whenever a session was minted, including on rejection.
// For DailyLimitReached on a GET nothing is written and ok is false.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, bodyToken string) (access.Decision, bool) {
	logger := zerolog.Ctx(r.Context())

	decision, err := s.controller.Authorize(r.Context(), access.Request{
		ClientAddress: ratelimit.ClientAddress(r, s.config.AddressHeaders),
		ClientAgent:   r.UserAgent(),
		SessionToken:  s.sessionToken(r, bodyToken),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Access check failed")
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		return decision, false
	}

	if decision.NewSession {
		s.setSessionCookie(w, decision.SessionID)
		if errors.Is(decision.Renewed, access.ErrSessionExpired) {
			logger.Debug().Msg("Expired session replaced")
		}
	}

	switch decision.Outcome {
	case access.RateLimited:
		w.Header().Set("Retry-After", ratelimit.RetryAfterHeader(decision.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:             http.StatusText(http.StatusTooManyRequests),
			Message:           msgRateLimited,
			Code:              http.StatusTooManyRequests,
			RetryAfterSeconds: retryAfterSeconds(decision.RetryAfter),
		})
		return decision, false

	case access.DailyLimitReached:
		if r.Method == http.MethodGet {
			return decision, false
		}
		resetsAt := decision.ResetsAt
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:    http.StatusText(http.StatusForbidden),
			Message:  msgDailyLimit,
			Code:     http.StatusForbidden,
			ResetsAt: &resetsAt,
		})
		return decision, false
	}

	return decision, true
}

// sessionToken reads the token from the cookie, then the header, then the body
func (s *Server) sessionToken(r *http.Request, bodyToken string) string {
	if cookie, err := r.Cookie(s.config.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := strings.TrimSpace(r.Header.Get(SessionHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(bodyToken)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	cookie := &http.Cookie{
		Name:     s.config.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.config.SessionTTL > 0 {
		cookie.MaxAge = int(s.config.SessionTTL / time.Second)
	}
	http.SetCookie(w, cookie)
	w.Header().Set(SessionHeader, id)
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
