package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRequests is the per-address request allowance per window
	DefaultMaxRequests = 10

	// DefaultWindow is the length of a fixed rate window
	DefaultWindow = time.Minute

	// DefaultUnknownBucketMultiplier scales the capacity of the shared unknown bucket
	DefaultUnknownBucketMultiplier = 5
)

// Config holds limiter configuration
type Config struct {
	MaxRequests             int
	Window                  time.Duration
	UnknownBucketMultiplier int
}

// Result describes the outcome of one rate check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter enforces a fixed-window request limit per client address. A
// window opens at the first request from an address and lasts Window.
type Limiter struct {
	windows           storage.RateWindowStore
	clock             clock.Clock
	maxRequests       int
	window            time.Duration
	unknownMultiplier int
	logger            zerolog.Logger
}

// NewLimiter creates a new rate limiter
func NewLimiter(windows storage.RateWindowStore, clk clock.Clock, config Config, logger zerolog.Logger) *Limiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultMaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.UnknownBucketMultiplier < 1 {
		config.UnknownBucketMultiplier = DefaultUnknownBucketMultiplier
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Limiter{
		windows:           windows,
		clock:             clk,
		maxRequests:       config.MaxRequests,
		window:            config.Window,
		unknownMultiplier: config.UnknownBucketMultiplier,
		logger:            logger.With().Str("component", "rate-limiter").Logger(),
	}
}

// Capacity returns the number of requests address may make per window.
// Every client without a derivable address shares the unknown bucket, so it
// gets a larger allowance.
func (l *Limiter) Capacity(address string) int {
	if address == UnknownAddress {
		return l.maxRequests * l.unknownMultiplier
	}
	return l.maxRequests
}

// Check counts one request from address and reports whether it may proceed.
// Rejected requests still count toward the window.
func (l *Limiter) Check(ctx context.Context, address string) (Result, error) {
	if address == "" {
		address = UnknownAddress
	}

	now := l.clock.Now()
	w, err := l.windows.Hit(ctx, address, now, l.window)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count request: %w", err)
	}

	capacity := l.Capacity(address)
	result := Result{
		Allowed: w.Count <= int64(capacity),
		Limit:   capacity,
		ResetAt: w.WindowEnd,
	}

	if result.Allowed {
		result.Remaining = capacity - int(w.Count)
		return result, nil
	}

	result.RetryAfter = w.WindowEnd.Sub(now)
	if result.RetryAfter < 0 {
		result.RetryAfter = 0
	}

	metrics.RateLimitedTotal.WithLabelValues(bucketLabel(address)).Inc()
	l.logger.Debug().
		Str("bucket", bucketLabel(address)).
		Int64("count", w.Count).
		Int("limit", capacity).
		Dur("retry_after", result.RetryAfter).
		Msg("Request rate limited")

	return result, nil
}

// ReportTracked publishes the number of tracked addresses
func (l *Limiter) ReportTracked(ctx context.Context) {
	n, err := l.windows.Len(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to count tracked addresses")
		return
	}
	metrics.TrackedAddresses.Set(float64(n))
}

// bucketLabel keeps metric label cardinality bounded
func bucketLabel(address string) string {
	if address == UnknownAddress {
		return "unknown"
	}
	return "address"
}
