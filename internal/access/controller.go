package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/goodtune/chatgate/internal/session"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/goodtune/chatgate/internal/usage"
	"github.com/rs/zerolog"
)

// Outcome is the verdict of an access decision
type Outcome int

const (
	Allowed Outcome = iota
	RateLimited
	DailyLimitReached
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case RateLimited:
		return "rate_limited"
	case DailyLimitReached:
		return "daily_limit_reached"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CostMode selects how a completed exchange is charged against the quota
type CostMode string

const (
	// CostFlat charges a fixed amount per exchange regardless of latency
	CostFlat CostMode = "flat"

	// CostElapsed charges measured wall-clock time, rounded up to whole seconds
	CostElapsed CostMode = "elapsed"
)

// DefaultFlatCost is charged per exchange in flat mode
const DefaultFlatCost = 30 * time.Second

// Config holds controller configuration
type Config struct {
	CostMode CostMode
	FlatCost time.Duration
}

// Request is what the routing layer knows about an incoming request
type Request struct {
	ClientAddress string
	ClientAgent   string
	SessionToken  string
}

// Decision is the result of Authorize
type Decision struct {
	Outcome Outcome

	// SessionID is set whenever a session was resolved, including for
	// DailyLimitReached. It is empty for RateLimited.
	SessionID  string
	NewSession bool

	// Renewed is ErrSessionExpired when the presented token had expired and
	// was replaced by SessionID
	Renewed error

	RemainingSeconds int64
	LimitSeconds     int64
	RetryAfter       time.Duration
	ResetsAt         time.Time
}

// Err returns nil for Allowed and a *DeniedError otherwise
func (d Decision) Err() error {
	if d.Outcome == Allowed {
		return nil
	}
	return &DeniedError{Outcome: d.Outcome, RetryAfter: d.RetryAfter, ResetsAt: d.ResetsAt}
}

// Controller decides whether a request may reach reply generation
type Controller struct {
	limiter  *ratelimit.Limiter
	sessions *session.Manager
	ledger   *usage.Ledger
	clock    clock.Clock
	costMode CostMode
	flatCost time.Duration
	logger   zerolog.Logger
}

// NewController creates a new access controller
func NewController(limiter *ratelimit.Limiter, sessions *session.Manager, ledger *usage.Ledger, clk clock.Clock, config Config, logger zerolog.Logger) (*Controller, error) {
	if config.CostMode == "" {
		config.CostMode = CostFlat
	}
	if config.FlatCost == 0 {
		config.FlatCost = DefaultFlatCost
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	switch config.CostMode {
	case CostFlat, CostElapsed:
	default:
		return nil, fmt.Errorf("unknown cost mode: %q", config.CostMode)
	}
	if config.FlatCost < 0 {
		return nil, fmt.Errorf("flat cost must not be negative: %s", config.FlatCost)
	}

	return &Controller{
		limiter:  limiter,
		sessions: sessions,
		ledger:   ledger,
		clock:    clk,
		costMode: config.CostMode,
		flatCost: config.FlatCost,
		logger:   logger.With().Str("component", "access-controller").Logger(),
	}, nil
}

// Authorize runs the rate check, resolves a session and checks its quota.
// Rejections are returned as a Decision, not an error; the error is non-nil
// only for backend failures and always wraps ErrInternalStore.
func (c *Controller) Authorize(ctx context.Context, req Request) (Decision, error) {
	rate, err := c.limiter.Check(ctx, req.ClientAddress)
	if err != nil {
		return Decision{}, storeFailure("rate limit", err)
	}
	if !rate.Allowed {
		metrics.DecisionsTotal.WithLabelValues(RateLimited.String()).Inc()
		return Decision{
			Outcome:    RateLimited,
			RetryAfter: rate.RetryAfter,
			ResetsAt:   rate.ResetAt,
		}, nil
	}

	decision := Decision{LimitSeconds: c.ledger.LimitSeconds()}

	sess, err := c.resolveSession(ctx, req, &decision)
	if err != nil {
		return Decision{}, err
	}
	decision.SessionID = sess.ID

	record, err := c.ledger.CheckAndReset(ctx, sess.ID)
	if err != nil {
		return Decision{}, storeFailure("quota check", err)
	}

	now := c.clock.Now()
	decision.RemainingSeconds = c.ledger.Remaining(record)
	decision.ResetsAt = c.ledger.ResetsAt(now)

	if decision.RemainingSeconds <= 0 {
		decision.Outcome = DailyLimitReached
		metrics.DecisionsTotal.WithLabelValues(DailyLimitReached.String()).Inc()
		c.logger.Debug().
			Str("session_prefix", storage.Redact(sess.ID)).
			Time("resets_at", decision.ResetsAt).
			Msg("Daily limit reached")
		return decision, nil
	}

	decision.Outcome = Allowed
	metrics.DecisionsTotal.WithLabelValues(Allowed.String()).Inc()
	return decision, nil
}

// resolveSession validates the presented token, minting a new session when
// it is absent, unknown or expired
func (c *Controller) resolveSession(ctx context.Context, req Request, decision *Decision) (*storage.Session, error) {
	if req.SessionToken != "" {
		sess, err := c.sessions.Validate(ctx, req.SessionToken)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, storage.ErrExpired):
			decision.Renewed = ErrSessionExpired
		case session.IsInvalid(err):
		default:
			return nil, storeFailure("session validate", err)
		}
	}

	sess, err := c.sessions.Create(ctx, req.ClientAddress, req.ClientAgent)
	if err != nil {
		return nil, storeFailure("session create", err)
	}
	decision.NewSession = true

	return sess, nil
}

// RecordCompletion charges one completed exchange to sessionID and returns
// the seconds left today after the charge. It must be called at most once
// per exchange, and only after reply generation succeeded.
func (c *Controller) RecordCompletion(ctx context.Context, sessionID string, elapsed time.Duration) (int64, error) {
	cost := c.Cost(elapsed)

	record, err := c.ledger.RecordUsage(ctx, sessionID, cost)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("session vanished before usage was recorded: %w", err)
		}
		return 0, storeFailure("record usage", err)
	}

	remaining := c.ledger.Remaining(record)
	c.logger.Debug().
		Str("session_prefix", storage.Redact(sessionID)).
		Str("cost_mode", string(c.costMode)).
		Dur("elapsed", elapsed).
		Int64("charged", cost).
		Int64("remaining", remaining).
		Msg("Exchange completed")

	return remaining, nil
}

// Cost returns the seconds charged for an exchange that took elapsed
func (c *Controller) Cost(elapsed time.Duration) int64 {
	if c.costMode == CostFlat {
		return int64(c.flatCost / time.Second)
	}
	if elapsed <= 0 {
		return 0
	}
	return int64((elapsed + time.Second - 1) / time.Second)
}
