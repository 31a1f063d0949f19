package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestAddUsageScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		existing string
		date     string
		day      string
		seconds  int64
		limit    int64
		want     string
	}{
		{
			name:     "adds within limit",
			existing: "60",
			date:     "2025-01-01",
			day:      "2025-01-01",
			seconds:  30,
			limit:    300,
			want:     "90",
		},
		{
			name:     "clamps at limit",
			existing: "210",
			date:     "2025-01-01",
			day:      "2025-01-01",
			seconds:  250,
			limit:    300,
			want:     "300",
		},
		{
			name:     "resets stale day before adding",
			existing: "300",
			date:     "2024-12-31",
			day:      "2025-01-01",
			seconds:  30,
			limit:    300,
			want:     "30",
		},
		{
			name:     "never decreases when over a lowered limit",
			existing: "400",
			date:     "2025-01-01",
			day:      "2025-01-01",
			seconds:  30,
			limit:    300,
			want:     "400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usageKey := "chatgate:usage:" + tt.name

			client.HSet(ctx, usageKey,
				"session_id", tt.name,
				"seconds_used_today", tt.existing,
				"last_reset_date", tt.date,
			)

			result := client.Eval(ctx, addUsageScript, []string{usageKey}, tt.day, tt.seconds, tt.limit)
			if result.Err() != nil {
				t.Fatalf("Script execution failed: %v", result.Err())
			}

			data := client.HGetAll(ctx, usageKey).Val()
			if data["seconds_used_today"] != tt.want {
				t.Errorf("Expected seconds_used_today=%s, got %s", tt.want, data["seconds_used_today"])
			}
			if data["last_reset_date"] != tt.day {
				t.Errorf("Expected last_reset_date=%s, got %s", tt.day, data["last_reset_date"])
			}
		})
	}
}

func TestAddUsageScript_MissingRecord(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	err := client.Eval(ctx, addUsageScript, []string{"chatgate:usage:none"}, "2025-01-01", 30, 300).Err()
	if err != redis.Nil {
		t.Fatalf("Expected redis.Nil for missing record, got %v", err)
	}
}

func TestTouchSessionScript_Statuses(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	sessionKey := "chatgate:session:s1"
	usageKey := "chatgate:usage:s1"
	index := "chatgate:sessions:expiry"

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)

	client.HSet(ctx, sessionKey,
		"id", "s1",
		"created_at", created.Format(time.RFC3339Nano),
		"last_activity_at", created.Format(time.RFC3339Nano),
		"last_activity_ms", created.UnixMilli(),
		"expires_at", expires.Format(time.RFC3339Nano),
		"expires_at_ms", expires.UnixMilli(),
	)
	client.HSet(ctx, usageKey, "session_id", "s1", "seconds_used_today", "0", "last_reset_date", "2025-01-01")
	client.ZAdd(ctx, index, redis.Z{Score: float64(expires.UnixMilli()), Member: "s1"})

	keys := []string{sessionKey, usageKey, index}

	// Exactly at expiry the session is still valid
	reply, err := client.Eval(ctx, touchSessionScript, keys, "s1", expires.UnixMilli(), expires.Format(time.RFC3339Nano)).Slice()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if reply[0] != "ok" {
		t.Fatalf("Expected ok at expiry instant, got %v", reply[0])
	}

	past := expires.Add(time.Millisecond)
	reply, err = client.Eval(ctx, touchSessionScript, keys, "s1", past.UnixMilli(), past.Format(time.RFC3339Nano)).Slice()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if reply[0] != "expired" {
		t.Fatalf("Expected expired, got %v", reply[0])
	}

	if client.Exists(ctx, sessionKey, usageKey).Val() != 0 {
		t.Error("Expected session and usage keys to be deleted")
	}
	if client.ZScore(ctx, index, "s1").Err() != redis.Nil {
		t.Error("Expected index entry to be removed")
	}

	reply, err = client.Eval(ctx, touchSessionScript, keys, "s1", past.UnixMilli(), past.Format(time.RFC3339Nano)).Slice()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if reply[0] != "missing" {
		t.Fatalf("Expected missing, got %v", reply[0])
	}
}

func TestSweepSessionScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	index := "chatgate:sessions:expiry"
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		id        string
		expiresAt time.Time
		want      int64
		remains   bool
	}{
		{
			name:      "removes expired session",
			id:        "old",
			expiresAt: now.Add(-time.Minute),
			want:      1,
		},
		{
			name:      "keeps session expiring at now",
			id:        "edge",
			expiresAt: now,
			remains:   true,
		},
		{
			name:      "keeps live session",
			id:        "live",
			expiresAt: now.Add(time.Hour),
			remains:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionKey := "chatgate:session:" + tt.id
			usageKey := "chatgate:usage:" + tt.id
			client.HSet(ctx, sessionKey, "id", tt.id)
			client.HSet(ctx, usageKey, "session_id", tt.id, "seconds_used_today", "0")
			client.ZAdd(ctx, index, redis.Z{Score: float64(tt.expiresAt.UnixMilli()), Member: tt.id})

			keys := []string{sessionKey, usageKey, index}
			got, err := client.Eval(ctx, sweepSessionScript, keys, tt.id, now.UnixMilli()).Int64()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}

			exists := client.Exists(ctx, sessionKey, usageKey).Val()
			indexed := client.ZScore(ctx, index, tt.id).Err() == nil
			if tt.remains && (exists != 2 || !indexed) {
				t.Errorf("Expected session to be kept, exists=%d indexed=%v", exists, indexed)
			}
			if !tt.remains && (exists != 0 || indexed) {
				t.Errorf("Expected session to be removed, exists=%d indexed=%v", exists, indexed)
			}
		})
	}
}

func TestRateHitScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	rateKey := "chatgate:rate:203.0.113.7"
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	window := int64(60000)

	tests := []struct {
		name      string
		nowMs     int64
		wantCount int64
		wantStart int64
	}{
		{"opens window", start, 1, start},
		{"counts within window", start + 1000, 2, start},
		{"last millisecond of window", start + window - 1, 3, start},
		{"opens next window", start + window, 1, start + window},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := client.Eval(ctx, rateHitScript, []string{rateKey}, tt.nowMs, window).Slice()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}

			count, _ := toInt64(reply[0])
			windowStart, _ := toInt64(reply[1])
			if count != tt.wantCount {
				t.Errorf("Expected count %d, got %d", tt.wantCount, count)
			}
			if windowStart != tt.wantStart {
				t.Errorf("Expected window start %d, got %d", tt.wantStart, windowStart)
			}
		})
	}

	if ttl := mr.TTL(rateKey); ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected rate key TTL within one window, got %v", ttl)
	}
}
