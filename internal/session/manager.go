package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is the fixed lifetime of an issued session
	DefaultTTL = 24 * time.Hour

	// DefaultSweepInterval is how often expired sessions are removed
	DefaultSweepInterval = 5 * time.Minute

	// tokenBytes is the amount of randomness behind every token (256 bits)
	tokenBytes = 32

	maxCreateAttempts = 5
)

// ErrTokenSpaceExhausted is returned when every generated token collided with a live session
var ErrTokenSpaceExhausted = errors.New("session: could not allocate a unique token")

// Config holds session manager configuration
type Config struct {
	TTL time.Duration
}

// Manager issues and validates anonymous session tokens
type Manager struct {
	sessions storage.SessionStore
	clock    clock.Clock
	ttl      time.Duration
	logger   zerolog.Logger

	// newToken is replaced in tests to force collisions
	newToken func() (string, error)
}

// NewManager creates a new session manager
func NewManager(sessions storage.SessionStore, clk clock.Clock, config Config, logger zerolog.Logger) *Manager {
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Manager{
		sessions: sessions,
		clock:    clk,
		ttl:      config.TTL,
		logger:   logger.With().Str("component", "session-manager").Logger(),
		newToken: generateToken,
	}
}

// TTL returns the lifetime given to new sessions
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Validate looks up token and bumps its last activity. A token past its
// expiry is evicted and reported as storage.ErrExpired; unknown or malformed
// tokens are reported as storage.ErrNotFound.
func (m *Manager) Validate(ctx context.Context, token string) (*storage.Session, error) {
	if !wellFormed(token) {
		metrics.SessionsInvalid.WithLabelValues("malformed").Inc()
		return nil, storage.ErrNotFound
	}

	session, err := m.sessions.Touch(ctx, token, m.clock.Now())
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, storage.ErrNotFound):
		metrics.SessionsInvalid.WithLabelValues("unknown").Inc()
		return nil, err
	case errors.Is(err, storage.ErrExpired):
		metrics.SessionsInvalid.WithLabelValues("expired").Inc()
		m.logger.Debug().
			Str("session_prefix", storage.Redact(token)).
			Msg("Evicted expired session on access")
		return nil, err
	default:
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
}

// Create issues a new session for the given client
func (m *Manager) Create(ctx context.Context, clientAddress, clientAgent string) (*storage.Session, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session token: %w", err)
		}

		now := m.clock.Now()
		session := storage.Session{
			ID:             token,
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(m.ttl),
			ClientAddress:  clientAddress,
			ClientAgent:    clientAgent,
		}

		err = m.sessions.Insert(ctx, session)
		if errors.Is(err, storage.ErrExists) {
			m.logger.Warn().Int("attempt", attempt).Msg("Session token collision, regenerating")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}

		metrics.SessionsCreated.Inc()
		m.logger.Debug().
			Str("session_prefix", storage.Redact(token)).
			Time("expires_at", session.ExpiresAt).
			Msg("Issued new session")

		return &session, nil
	}

	return nil, ErrTokenSpaceExhausted
}

// Sweep removes every expired session and its usage record
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.sessions.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return removed, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	metrics.SessionsSwept.Add(float64(removed))
	if count, err := m.sessions.Count(ctx); err == nil {
		metrics.SessionsActive.Set(float64(count))
	}

	return removed, nil
}

// Terminate removes a session and its usage record immediately
func (m *Manager) Terminate(ctx context.Context, token string) error {
	if _, err := m.sessions.Get(ctx, token); err != nil {
		return err
	}
	if err := m.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.logger.Info().Str("session_prefix", storage.Redact(token)).Msg("Session terminated")
	return nil
}

// IsInvalid reports whether err means the presented token cannot be used
func IsInvalid(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired)
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// wellFormed reports whether token has the shape of an issued token
func wellFormed(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
