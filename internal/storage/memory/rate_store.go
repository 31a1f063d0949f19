package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

type rateWindow struct {
	count int64
	start time.Time
}

// rateWindowStore keeps one fixed window per client address. The LRU bounds
// the table by size. Addresses whose window opened more than ttl ago are
// pruned against the caller's clock, at most once per ttl.
type rateWindowStore struct {
	mu        sync.Mutex
	windows   *lru.Cache[string, *rateWindow]
	ttl       time.Duration
	lastPrune time.Time
}

func newRateWindowStore(maxKeys int, ttl time.Duration) *rateWindowStore {
	windows, err := lru.New[string, *rateWindow](maxKeys)
	if err != nil {
		// Only a non-positive size fails, and Open always passes a positive one
		panic(err)
	}
	return &rateWindowStore{
		windows: windows,
		ttl:     ttl,
	}
}

// Hit counts one request for key in its current window
func (s *rateWindowStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (storage.RateWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	w, ok := s.windows.Get(key)
	if !ok || !now.Before(w.start.Add(window)) {
		w = &rateWindow{start: now}
		s.windows.Add(key, w)
	}
	w.count++

	return storage.RateWindow{
		Key:         key,
		Count:       w.count,
		WindowStart: w.start,
		WindowEnd:   w.start.Add(window),
	}, nil
}

// pruneLocked drops addresses that have not opened a window within ttl of now
func (s *rateWindowStore) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < s.ttl {
		return
	}
	s.lastPrune = now

	for _, key := range s.windows.Keys() {
		if w, ok := s.windows.Peek(key); ok && now.Sub(w.start) >= s.ttl {
			s.windows.Remove(key)
		}
	}
}

// Len returns the number of tracked addresses
func (s *rateWindowStore) Len(ctx context.Context) (int, error) {
	return s.windows.Len(), nil
}

func (s *rateWindowStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows.Purge()
	s.lastPrune = time.Time{}
}
