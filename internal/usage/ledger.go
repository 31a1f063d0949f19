package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultDailyLimit is the conversation time each session gets per day
	DefaultDailyLimit = 5 * time.Minute

	// DefaultResetTime is the local time of day at which quotas reset
	DefaultResetTime = "00:00"
)

// ErrNegativeUsage is returned when a caller tries to charge negative time
var ErrNegativeUsage = errors.New("usage: seconds must not be negative")

// Config holds ledger configuration
type Config struct {
	DailyLimit time.Duration
	ResetTime  string // HH:MM, server local time
}

// Ledger tracks per-session conversation seconds against a daily limit
type Ledger struct {
	usage        storage.UsageStore
	clock        clock.Clock
	limitSeconds int64
	resetTime    time.Time // only hour and minute are used
	logger       zerolog.Logger
}

// NewLedger creates a new quota ledger
func NewLedger(usage storage.UsageStore, clk clock.Clock, config Config, logger zerolog.Logger) (*Ledger, error) {
	if config.DailyLimit == 0 {
		config.DailyLimit = DefaultDailyLimit
	}
	if config.ResetTime == "" {
		config.ResetTime = DefaultResetTime
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	// Parse reset time (HH:MM format)
	resetTime, err := time.Parse("15:04", config.ResetTime)
	if err != nil {
		return nil, fmt.Errorf("invalid reset time %q: %w", config.ResetTime, err)
	}

	return &Ledger{
		usage:        usage,
		clock:        clk,
		limitSeconds: int64(config.DailyLimit / time.Second),
		resetTime:    resetTime,
		logger:       logger.With().Str("component", "usage-ledger").Logger(),
	}, nil
}

// LimitSeconds returns the daily limit in whole seconds
func (l *Ledger) LimitSeconds() int64 {
	return l.limitSeconds
}

// Today returns the reset day that now falls in, as stored on usage records
func (l *Ledger) Today(now time.Time) string {
	return ResetDay(now, l.resetTime).Format(storage.DateFormat)
}

// ResetsAt returns when the quota in effect at now is next replenished
func (l *Ledger) ResetsAt(now time.Time) time.Time {
	return NextReset(now, l.resetTime)
}

// CheckAndReset returns the session's usage record, creating it on first use
// and zeroing it when the stored date is not the current day
func (l *Ledger) CheckAndReset(ctx context.Context, sessionID string) (storage.UsageRecord, error) {
	record, err := l.usage.CheckAndReset(ctx, sessionID, l.Today(l.clock.Now()))
	if err != nil {
		return storage.UsageRecord{}, fmt.Errorf("failed to check usage: %w", err)
	}
	return record, nil
}

// RemainingSeconds returns the seconds left today for sessionID
func (l *Ledger) RemainingSeconds(ctx context.Context, sessionID string) (int64, error) {
	record, err := l.CheckAndReset(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return l.Remaining(record), nil
}

// Remaining returns the seconds left on record, never negative
func (l *Ledger) Remaining(record storage.UsageRecord) int64 {
	remaining := l.limitSeconds - record.SecondsUsedToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordUsage charges seconds to sessionID. The total is clamped at the
// daily limit.
func (l *Ledger) RecordUsage(ctx context.Context, sessionID string, seconds int64) (storage.UsageRecord, error) {
	if seconds < 0 {
		return storage.UsageRecord{}, ErrNegativeUsage
	}

	record, err := l.usage.Add(ctx, sessionID, l.Today(l.clock.Now()), seconds, l.limitSeconds)
	if err != nil {
		return storage.UsageRecord{}, fmt.Errorf("failed to record usage: %w", err)
	}

	metrics.UsageSecondsConsumed.Add(float64(seconds))
	l.logger.Debug().
		Str("session_prefix", storage.Redact(sessionID)).
		Int64("charged", seconds).
		Int64("used_today", record.SecondsUsedToday).
		Msg("Recorded usage")

	return record, nil
}
