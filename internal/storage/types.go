package storage

import (
	"time"
)

// Session represents one anonymous browsing identity.
// ID is the sole credential and must never be logged or returned in full.
type Session struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ClientAddress  string    `json:"client_address"`
	ClientAgent    string    `json:"client_agent"`
}

// IsExpired reports whether the session has passed its absolute expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// UsageRecord tracks daily consumption for one session.
type UsageRecord struct {
	SessionID        string `json:"session_id"`
	SecondsUsedToday int64  `json:"seconds_used_today"`
	LastResetDate    string `json:"last_reset_date"` // YYYY-MM-DD
}

// RateWindow is the state of one client address in the current fixed window.
type RateWindow struct {
	Key         string
	Count       int64
	WindowStart time.Time
	WindowEnd   time.Time
}

// DateFormat is the layout of UsageRecord.LastResetDate.
const DateFormat = "2006-01-02"

// Redact returns a short, non-credential prefix of a session token for logs and listings.
func Redact(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
