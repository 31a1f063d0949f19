package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/goodtune/chatgate/internal/reply"
)

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message             string          `json:"message"`
	ConversationHistory []reply.Message `json:"conversationHistory"`
	SessionID           string          `json:"sessionId,omitempty"`
}

// ChatResponse is returned for a successful exchange
type ChatResponse struct {
	Reply            string `json:"reply"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// SessionStatus is returned by GET /api/session
type SessionStatus struct {
	RemainingSeconds  int64     `json:"remaining_seconds"`
	DailyLimitSeconds int64     `json:"daily_limit_seconds"`
	ResetsAt          time.Time `json:"resets_at"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error             string     `json:"error"`
	Message           string     `json:"message,omitempty"`
	Code              int        `json:"code"`
	RetryAfterSeconds int64      `json:"retry_after_seconds,omitempty"`
	ResetsAt          *time.Time `json:"resets_at,omitempty"`
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
