package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrExpired is returned by Touch when the session exists but is past its expiry.
	// The session has already been evicted when this is returned.
	ErrExpired = errors.New("storage: session expired")

	// ErrExists is returned by Insert when the id is already taken by a live session.
	ErrExists = errors.New("storage: record already exists")
)

// Store represents the root storage interface.
// Sessions and their usage records share a lifecycle: removing a session
// removes its usage record in the same operation.
type Store interface {
	Close() error
	Sessions() SessionStore
	Usage() UsageStore
	RateWindows() RateWindowStore
}

// SessionStore manages issued session tokens.
type SessionStore interface {
	// Insert adds a new session. It fails with ErrExists if the id is live.
	Insert(ctx context.Context, session Session) error
	// Touch atomically looks up id, evicts it if expired at now, and otherwise
	// bumps LastActivityAt to now.
	Touch(ctx context.Context, id string, now time.Time) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes every session with now > ExpiresAt and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	List(ctx context.Context) ([]Session, error)
	Count(ctx context.Context) (int, error)
}

// UsageStore manages per-session daily usage.
// Every method that takes a day first resets the record when its
// LastResetDate differs from day.
type UsageStore interface {
	// CheckAndReset returns the record for id, creating it for day if absent.
	// It fails with ErrNotFound if no session exists for id.
	CheckAndReset(ctx context.Context, id, day string) (UsageRecord, error)
	// Add increases SecondsUsedToday by seconds, clamped at limit.
	// It fails with ErrNotFound if no record exists for id.
	Add(ctx context.Context, id, day string, seconds, limit int64) (UsageRecord, error)
	Get(ctx context.Context, id string) (*UsageRecord, error)
	List(ctx context.Context) ([]UsageRecord, error)
}

// RateWindowStore manages fixed request windows keyed by client address.
// Idle keys are evicted by the backend once their window has passed.
type RateWindowStore interface {
	// Hit counts one request for key and returns the window state after counting.
	// A new window starting at now is opened when none is active.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (RateWindow, error)
	Len(ctx context.Context) (int, error)
}
