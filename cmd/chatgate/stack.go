package main

import (
	"fmt"

	"github.com/goodtune/chatgate/internal/access"
	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/config"
	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/goodtune/chatgate/internal/session"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/goodtune/chatgate/internal/storage/memory"
	"github.com/goodtune/chatgate/internal/storage/redis"
	"github.com/goodtune/chatgate/internal/usage"
	"github.com/rs/zerolog"
)

// stack is the access-control core shared by the server and check commands
type stack struct {
	store      storage.Store
	manager    *session.Manager
	ledger     *usage.Ledger
	limiter    *ratelimit.Limiter
	controller *access.Controller
}

func openStorage(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return memory.Open(memory.Config{
			MaxRateKeys: cfg.RateLimit.MaxTrackedAddresses,
			RateKeyTTL:  parseDuration(cfg.RateLimit.Window, ratelimit.DefaultWindow),
		}), nil
	case "redis":
		return redis.Open(cfg.Storage.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func newStack(cfg *config.Config, store storage.Store, clk clock.Clock, logger zerolog.Logger) (*stack, error) {
	manager := session.NewManager(store.Sessions(), clk, session.Config{
		TTL: parseDuration(cfg.Session.TTL, session.DefaultTTL),
	}, logger)

	ledger, err := usage.NewLedger(store.Usage(), clk, usage.Config{
		DailyLimit: parseDuration(cfg.Usage.DailyLimit, usage.DefaultDailyLimit),
		ResetTime:  cfg.Usage.DailyResetTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}

	limiter := ratelimit.NewLimiter(store.RateWindows(), clk, ratelimit.Config{
		MaxRequests:             cfg.RateLimit.MaxRequests,
		Window:                  parseDuration(cfg.RateLimit.Window, ratelimit.DefaultWindow),
		UnknownBucketMultiplier: cfg.RateLimit.UnknownBucketMultiplier,
	}, logger)

	controller, err := access.NewController(limiter, manager, ledger, clk, access.Config{
		CostMode: access.CostMode(cfg.Usage.CostMode),
		FlatCost: parseDuration(cfg.Usage.FlatCost, access.DefaultFlatCost),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize access controller: %w", err)
	}

	return &stack{
		store:      store,
		manager:    manager,
		ledger:     ledger,
		limiter:    limiter,
		controller: controller,
	}, nil
}
