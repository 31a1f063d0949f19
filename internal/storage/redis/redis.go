package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/config"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	sessionStore *sessionStore
	usageStore   *usageStore
	rateStore    *rateWindowStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, cfg.KeyPrefix), nil
}

func newStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "chatgate"
	}
	keys := keyspace{prefix: prefix}

	return &Store{
		client:       client,
		sessionStore: &sessionStore{client: client, keys: keys},
		usageStore:   &usageStore{client: client, keys: keys},
		rateStore:    &rateWindowStore{client: client, keys: keys},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// RateWindows returns the RateWindowStore implementation
func (s *Store) RateWindows() storage.RateWindowStore {
	return s.rateStore
}

// keyspace builds every key under one prefix so several deployments can
// share a Redis database.
type keyspace struct {
	prefix string
}

func (k keyspace) session(id string) string {
	return k.sessionPrefix() + id
}

func (k keyspace) sessionPrefix() string {
	return k.prefix + ":session:"
}

func (k keyspace) usage(id string) string {
	return k.usagePrefix() + id
}

func (k keyspace) usagePrefix() string {
	return k.prefix + ":usage:"
}

func (k keyspace) expiryIndex() string {
	return k.prefix + ":sessions:expiry"
}

func (k keyspace) rate(address string) string {
	return k.ratePrefix() + address
}

func (k keyspace) ratePrefix() string {
	return k.prefix + ":rate:"
}
