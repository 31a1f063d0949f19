package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// SessionView is an operator-facing session summary. Tokens are redacted
// and client addresses are never exposed.
type SessionView struct {
	SessionPrefix  string    `json:"session_prefix"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ClientAgent    string    `json:"client_agent,omitempty"`
}

// SessionList is returned by GET /api/admin/sessions
type SessionList struct {
	Sessions []SessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// UsageView is an operator-facing usage summary
type UsageView struct {
	SessionPrefix    string `json:"session_prefix"`
	SecondsUsedToday int64  `json:"seconds_used_today"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	LastResetDate    string `json:"last_reset_date"`
}

// UsageList is returned by GET /api/admin/usage
type UsageList struct {
	Usage             []UsageView `json:"usage"`
	DailyLimitSeconds int64       `json:"daily_limit_seconds"`
	Day               string      `json:"day"`
}

// Stats is returned by GET /api/admin/stats
type Stats struct {
	ActiveSessions   int `json:"active_sessions"`
	TrackedAddresses int `json:"tracked_addresses"`
}

// SweepResult is returned by POST /api/admin/sweep
type SweepResult struct {
	Removed int `json:"removed"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
