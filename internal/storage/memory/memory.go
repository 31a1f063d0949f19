package memory

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goodtune/chatgate/internal/storage"
)

// shardCount must stay a power of two.
const shardCount = 32

const (
	// DefaultMaxRateKeys bounds the number of tracked client addresses.
	DefaultMaxRateKeys = 100000

	// DefaultRateKeyTTL is how long an address with no new window is remembered.
	DefaultRateKeyTTL = time.Minute
)

// Config holds in-memory backend settings.
type Config struct {
	MaxRateKeys int
	RateKeyTTL  time.Duration
}

// shard holds the sessions and usage records whose ids hash to it.
// A session and its usage record always live in the same shard so both can be
// mutated under one lock.
type shard struct {
	mu       sync.RWMutex
	sessions map[string]*storage.Session
	usage    map[string]*storage.UsageRecord
}

// Store implements the storage.Store interface in process memory.
type Store struct {
	shards       [shardCount]*shard
	sessionStore *sessionStore
	usageStore   *usageStore
	rateStore    *rateWindowStore
}

// Open creates a new in-memory storage instance.
func Open(cfg Config) *Store {
	if cfg.MaxRateKeys <= 0 {
		cfg.MaxRateKeys = DefaultMaxRateKeys
	}
	if cfg.RateKeyTTL <= 0 {
		cfg.RateKeyTTL = DefaultRateKeyTTL
	}

	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{
			sessions: make(map[string]*storage.Session),
			usage:    make(map[string]*storage.UsageRecord),
		}
	}

	s.sessionStore = &sessionStore{store: s}
	s.usageStore = &usageStore{store: s}
	s.rateStore = newRateWindowStore(cfg.MaxRateKeys, cfg.RateKeyTTL)

	return s
}

// Close drops all state.
func (s *Store) Close() error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.sessions = make(map[string]*storage.Session)
		sh.usage = make(map[string]*storage.UsageRecord)
		sh.mu.Unlock()
	}
	s.rateStore.purge()
	return nil
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

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)&(shardCount-1)]
}
