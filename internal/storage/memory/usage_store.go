package memory

import (
	"context"

	"github.com/goodtune/chatgate/internal/storage"
)

type usageStore struct {
	store *Store
}

// CheckAndReset returns the usage record for a live session, creating or
// resetting it for day as needed
func (s *usageStore) CheckAndReset(ctx context.Context, id, day string) (storage.UsageRecord, error) {
	sh := s.store.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sessions[id]; !ok {
		return storage.UsageRecord{}, storage.ErrNotFound
	}

	record, ok := sh.usage[id]
	if !ok {
		record = &storage.UsageRecord{SessionID: id, LastResetDate: day}
		sh.usage[id] = record
	}
	resetIfStale(record, day)

	return *record, nil
}

// Add increments usage, clamped at limit. The counter never decreases.
func (s *usageStore) Add(ctx context.Context, id, day string, seconds, limit int64) (storage.UsageRecord, error) {
	sh := s.store.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	record, ok := sh.usage[id]
	if !ok {
		return storage.UsageRecord{}, storage.ErrNotFound
	}
	resetIfStale(record, day)

	record.SecondsUsedToday = clampAdd(record.SecondsUsedToday, seconds, limit)

	return *record, nil
}

// Get retrieves the usage record for id as stored, without a date check
func (s *usageStore) Get(ctx context.Context, id string) (*storage.UsageRecord, error) {
	sh := s.store.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	record, ok := sh.usage[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := *record
	return &out, nil
}

// List returns a snapshot of all usage records
func (s *usageStore) List(ctx context.Context) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)

	for _, sh := range s.store.shards {
		sh.mu.RLock()
		for _, record := range sh.usage {
			records = append(records, *record)
		}
		sh.mu.RUnlock()
	}

	return records, nil
}

func resetIfStale(record *storage.UsageRecord, day string) {
	if record.LastResetDate != day {
		record.SecondsUsedToday = 0
		record.LastResetDate = day
	}
}

// clampAdd adds seconds to current without exceeding limit or decreasing.
// The comparison is done before adding so huge charges cannot overflow.
func clampAdd(current, seconds, limit int64) int64 {
	if seconds <= 0 || current >= limit {
		return current
	}
	if seconds >= limit-current {
		return limit
	}
	return current + seconds
}
