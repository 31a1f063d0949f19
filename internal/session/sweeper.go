package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically removes expired sessions in the background
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	hooks    []func(context.Context)
	logger   zerolog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSweeper creates a new sweeper. Hooks run after every pass, successful or not.
func NewSweeper(manager *Manager, interval time.Duration, logger zerolog.Logger, hooks ...func(context.Context)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		manager:  manager,
		interval: interval,
		hooks:    hooks,
		logger:   logger.With().Str("component", "session-sweeper").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Session sweeper started")
}

// Stop stops the sweep loop and waits for an in-flight pass to finish
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info().Msg("Session sweeper stopped")
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	defer func() {
		for _, hook := range s.hooks {
			hook(ctx)
		}
	}()

	start := time.Now()
	removed, err := s.manager.Sweep(ctx)
	if err != nil {
		// Keep running; the next tick retries.
		s.logger.Error().Err(err).Int("removed", removed).Msg("Session sweep failed")
		return
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Dur("duration", time.Since(start)).
			Msg("Expired sessions swept")
	}
}
