package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
)

var baseTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)

func newSession(id string, createdAt time.Time) storage.Session {
	return storage.Session{
		ID:             id,
		CreatedAt:      createdAt,
		LastActivityAt: createdAt,
		ExpiresAt:      createdAt.Add(24 * time.Hour),
		ClientAddress:  "203.0.113.7",
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store := Open(Config{MaxRateKeys: 16, RateKeyTTL: time.Minute})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionStore_InsertCollision(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Sessions().Insert(ctx, newSession("dup", baseTime)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Sessions().Insert(ctx, newSession("dup", baseTime.Add(time.Hour))); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}
	if err := store.Sessions().Insert(ctx, newSession("dup", baseTime.Add(25*time.Hour))); err != nil {
		t.Fatalf("Expected reissue over expired session, got %v", err)
	}
}

func TestSessionStore_TouchExpiryBoundary(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()

	_ = sessions.Insert(ctx, newSession("s1", baseTime))

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"one second before expiry", 86399 * time.Second, nil},
		{"exactly at expiry", 86400 * time.Second, nil},
		{"one second after expiry", 86401 * time.Second, storage.ErrExpired},
		{"after eviction", 86402 * time.Second, storage.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sessions.Touch(ctx, "s1", baseTime.Add(tt.offset))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if err == nil && !got.LastActivityAt.Equal(baseTime.Add(tt.offset)) {
				t.Errorf("Expected LastActivityAt to be bumped, got %v", got.LastActivityAt)
			}
		})
	}
}

func TestSessionStore_ExpiredRemovesUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.Sessions().Insert(ctx, newSession("s1", baseTime))
	if _, err := store.Usage().CheckAndReset(ctx, "s1", "2025-03-14"); err != nil {
		t.Fatalf("CheckAndReset failed: %v", err)
	}

	if _, err := store.Sessions().Touch(ctx, "s1", baseTime.Add(48*time.Hour)); !errors.Is(err, storage.ErrExpired) {
		t.Fatalf("Expected ErrExpired, got %v", err)
	}
	if _, err := store.Usage().Get(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected usage record to go with its session, got %v", err)
	}
}

func TestSessionStore_DeleteExpired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()

	for i := 0; i < 100; i++ {
		created := baseTime.Add(-48 * time.Hour)
		if i%4 == 0 {
			created = baseTime
		}
		_ = sessions.Insert(ctx, newSession(fmt.Sprintf("s%03d", i), created))
		_, _ = store.Usage().CheckAndReset(ctx, fmt.Sprintf("s%03d", i), "2025-03-14")
	}

	deleted, err := sessions.DeleteExpired(ctx, baseTime)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 75 {
		t.Errorf("Expected 75 deleted sessions, got %d", deleted)
	}

	count, _ := sessions.Count(ctx)
	if count != 25 {
		t.Errorf("Expected 25 remaining sessions, got %d", count)
	}

	records, _ := store.Usage().List(ctx)
	if len(records) != 25 {
		t.Errorf("Expected 25 remaining usage records, got %d", len(records))
	}
}

func TestSessionStore_ConcurrentTouch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.Sessions().Insert(ctx, newSession("shared", baseTime))

	var wg sync.WaitGroup
	errs := make(chan error, 1000)
	seen := make(chan *storage.Session, 1000)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := store.Sessions().Touch(ctx, "shared", baseTime.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				errs <- err
				return
			}
			seen <- sess
		}(i)
	}
	wg.Wait()
	close(errs)
	close(seen)

	for err := range errs {
		t.Errorf("Touch failed: %v", err)
	}
	for sess := range seen {
		if sess.ID != "shared" || !sess.CreatedAt.Equal(baseTime) {
			t.Errorf("Touch returned id %q created %v, want shared created %v", sess.ID, sess.CreatedAt, baseTime)
		}
	}

	count, err := store.Sessions().Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 session after concurrent touches, got %d", count)
	}

	got, err := store.Sessions().Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LastActivityAt.Equal(baseTime.Add(999 * time.Millisecond)) {
		t.Errorf("Expected LastActivityAt to be the latest touch, got %v", got.LastActivityAt)
	}
}

func TestUsageStore_AddClamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	if _, err := usage.CheckAndReset(ctx, "ghost", "2025-03-14"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound without a session, got %v", err)
	}
	if _, err := usage.Add(ctx, "ghost", "2025-03-14", 30, 300); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound without a record, got %v", err)
	}

	_ = store.Sessions().Insert(ctx, newSession("s1", baseTime))
	_, _ = usage.CheckAndReset(ctx, "s1", "2025-03-14")

	var record storage.UsageRecord
	for i := 0; i < 3; i++ {
		record, _ = usage.Add(ctx, "s1", "2025-03-14", 30, 300)
	}
	if record.SecondsUsedToday != 90 {
		t.Fatalf("Expected 90 seconds used, got %d", record.SecondsUsedToday)
	}

	record, _ = usage.Add(ctx, "s1", "2025-03-14", 250, 300)
	if record.SecondsUsedToday != 300 {
		t.Errorf("Expected clamp at 300, got %d", record.SecondsUsedToday)
	}

	_ = store.Sessions().Insert(ctx, newSession("s2", baseTime))
	_, _ = usage.CheckAndReset(ctx, "s2", "2025-03-14")
	_, _ = usage.Add(ctx, "s2", "2025-03-14", 30, 300)
	record, _ = usage.Add(ctx, "s2", "2025-03-14", math.MaxInt64, 300)
	if record.SecondsUsedToday != 300 {
		t.Errorf("Expected MaxInt64 charge to clamp at 300, got %d", record.SecondsUsedToday)
	}

	record, _ = usage.CheckAndReset(ctx, "s1", "2025-03-15")
	if record.SecondsUsedToday != 0 || record.LastResetDate != "2025-03-15" {
		t.Errorf("Expected reset on new day, got %+v", record)
	}
}

func TestRateWindowStore_Hit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rates := store.RateWindows()

	for i := 1; i <= 5; i++ {
		w, _ := rates.Hit(ctx, "203.0.113.7", baseTime.Add(time.Duration(i)*time.Second), time.Minute)
		if w.Count != int64(i) {
			t.Errorf("Expected count %d, got %d", i, w.Count)
		}
	}

	w, _ := rates.Hit(ctx, "203.0.113.7", baseTime.Add(61*time.Second), time.Minute)
	if w.Count != 1 {
		t.Errorf("Expected a new window at 1, got %d", w.Count)
	}
	if !w.WindowEnd.Equal(baseTime.Add(121 * time.Second)) {
		t.Errorf("Expected window end %v, got %v", baseTime.Add(121*time.Second), w.WindowEnd)
	}
}

func TestRateWindowStore_BoundedSize(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 64; i++ {
		_, _ = store.RateWindows().Hit(ctx, fmt.Sprintf("10.0.0.%d", i), baseTime, time.Minute)
	}

	n, _ := store.RateWindows().Len(ctx)
	if n != 16 {
		t.Errorf("Expected table bounded at 16 addresses, got %d", n)
	}
}

func TestRateWindowStore_PrunesIdleAddresses(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rates := store.RateWindows()

	_, _ = rates.Hit(ctx, "203.0.113.1", baseTime, time.Minute)
	_, _ = rates.Hit(ctx, "203.0.113.2", baseTime.Add(30*time.Second), time.Minute)

	// Idle expiry follows the supplied time, so nothing goes before a minute passes
	_, _ = rates.Hit(ctx, "203.0.113.3", baseTime.Add(59*time.Second), time.Minute)
	if n, _ := rates.Len(ctx); n != 3 {
		t.Fatalf("Expected 3 tracked addresses, got %d", n)
	}

	_, _ = rates.Hit(ctx, "203.0.113.4", baseTime.Add(2*time.Minute), time.Minute)
	if n, _ := rates.Len(ctx); n != 1 {
		t.Errorf("Expected idle addresses to be pruned, have %d", n)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n, _ := rates.Len(ctx); n != 0 {
		t.Errorf("Expected Close to drop all windows, have %d", n)
	}
}
