package usage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/goodtune/chatgate/internal/storage/memory"
	"github.com/rs/zerolog"
)

func setupTestLedger(t *testing.T, now time.Time) (*Ledger, *clock.TestClock) {
	t.Helper()

	store := memory.Open(memory.Config{})
	t.Cleanup(func() { _ = store.Close() })

	session := storage.Session{
		ID:        "session-1",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := store.Sessions().Insert(context.Background(), session); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	clk := clock.NewTestClock(now)
	ledger, err := NewLedger(store.Usage(), clk, Config{DailyLimit: 5 * time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return ledger, clk
}

func TestLedger_RecordUsage(t *testing.T) {
	ledger, _ := setupTestLedger(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local))
	ctx := context.Background()

	remaining, err := ledger.RemainingSeconds(ctx, "session-1")
	if err != nil {
		t.Fatalf("RemainingSeconds failed: %v", err)
	}
	if remaining != 300 {
		t.Fatalf("Expected 300 seconds for a fresh session, got %d", remaining)
	}

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordUsage(ctx, "session-1", 30); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	remaining, _ = ledger.RemainingSeconds(ctx, "session-1")
	if remaining != 210 {
		t.Errorf("Expected 210 seconds remaining, got %d", remaining)
	}

	record, err := ledger.RecordUsage(ctx, "session-1", 250)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if record.SecondsUsedToday != 300 {
		t.Errorf("Expected usage clamped at 300, got %d", record.SecondsUsedToday)
	}

	remaining, _ = ledger.RemainingSeconds(ctx, "session-1")
	if remaining != 0 {
		t.Errorf("Expected 0 seconds remaining, got %d", remaining)
	}
}

func TestLedger_RecordUsageHugeCharge(t *testing.T) {
	ledger, _ := setupTestLedger(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local))
	ctx := context.Background()

	if _, err := ledger.RecordUsage(ctx, "session-1", 30); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	record, err := ledger.RecordUsage(ctx, "session-1", math.MaxInt64)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if record.SecondsUsedToday != 300 {
		t.Errorf("Expected usage clamped at 300, got %d", record.SecondsUsedToday)
	}

	remaining, _ := ledger.RemainingSeconds(ctx, "session-1")
	if remaining != 0 {
		t.Errorf("Expected 0 seconds remaining, got %d", remaining)
	}
}

func TestLedger_RecordUsageErrors(t *testing.T) {
	ledger, _ := setupTestLedger(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local))
	ctx := context.Background()

	if _, err := ledger.RecordUsage(ctx, "session-1", -1); !errors.Is(err, ErrNegativeUsage) {
		t.Errorf("Expected ErrNegativeUsage, got %v", err)
	}

	if _, err := ledger.RecordUsage(ctx, "nobody", 30); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown session, got %v", err)
	}

	if _, err := ledger.RemainingSeconds(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestLedger_MidnightReset(t *testing.T) {
	ledger, clk := setupTestLedger(t, time.Date(2025, 3, 14, 23, 59, 0, 0, time.Local))
	ctx := context.Background()

	_, _ = ledger.CheckAndReset(ctx, "session-1")
	_, _ = ledger.RecordUsage(ctx, "session-1", 300)

	clk.Set(time.Date(2025, 3, 14, 23, 59, 59, 0, time.Local))
	remaining, _ := ledger.RemainingSeconds(ctx, "session-1")
	if remaining != 0 {
		t.Fatalf("Expected exhausted quota before midnight, got %d", remaining)
	}

	clk.Set(time.Date(2025, 3, 15, 0, 0, 0, 0, time.Local))
	record, err := ledger.CheckAndReset(ctx, "session-1")
	if err != nil {
		t.Fatalf("CheckAndReset failed: %v", err)
	}
	if record.SecondsUsedToday != 0 {
		t.Errorf("Expected usage reset after midnight, got %d", record.SecondsUsedToday)
	}
	if record.LastResetDate != "2025-03-15" {
		t.Errorf("Expected LastResetDate 2025-03-15, got %s", record.LastResetDate)
	}
}

func TestLedger_InvalidResetTime(t *testing.T) {
	_, err := NewLedger(nil, nil, Config{ResetTime: "25:99"}, zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for invalid reset time")
	}
}

func TestResetDay(t *testing.T) {
	midnight, _ := time.Parse("15:04", "00:00")
	fourAM, _ := time.Parse("15:04", "04:00")

	tests := []struct {
		name      string
		now       time.Time
		resetTime time.Time
		wantDay   string
		wantNext  time.Time
	}{
		{
			name:      "midnight reset mid-day",
			now:       time.Date(2025, 3, 14, 15, 0, 0, 0, time.Local),
			resetTime: midnight,
			wantDay:   "2025-03-14",
			wantNext:  time.Date(2025, 3, 15, 0, 0, 0, 0, time.Local),
		},
		{
			name:      "midnight reset at the instant",
			now:       time.Date(2025, 3, 15, 0, 0, 0, 0, time.Local),
			resetTime: midnight,
			wantDay:   "2025-03-15",
			wantNext:  time.Date(2025, 3, 16, 0, 0, 0, 0, time.Local),
		},
		{
			name:      "early morning before a 04:00 reset",
			now:       time.Date(2025, 3, 15, 2, 30, 0, 0, time.Local),
			resetTime: fourAM,
			wantDay:   "2025-03-14",
			wantNext:  time.Date(2025, 3, 15, 4, 0, 0, 0, time.Local),
		},
		{
			name:      "month boundary",
			now:       time.Date(2025, 1, 31, 23, 0, 0, 0, time.Local),
			resetTime: midnight,
			wantDay:   "2025-01-31",
			wantNext:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResetDay(tt.now, tt.resetTime).Format(storage.DateFormat); got != tt.wantDay {
				t.Errorf("ResetDay = %s, want %s", got, tt.wantDay)
			}
			if got := NextReset(tt.now, tt.resetTime); !got.Equal(tt.wantNext) {
				t.Errorf("NextReset = %v, want %v", got, tt.wantNext)
			}
		})
	}
}
