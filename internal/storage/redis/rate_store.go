package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type rateWindowStore struct {
	client *redis.Client
	keys   keyspace
}

// Hit counts one request for key. Idle keys expire with their window.
func (s *rateWindowStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (storage.RateWindow, error) {
	keys := []string{s.keys.rate(key)}
	args := []interface{}{now.UnixMilli(), window.Milliseconds()}

	reply, err := rateHit.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return storage.RateWindow{}, fmt.Errorf("failed to count request: %w", err)
	}
	if len(reply) != 2 {
		return storage.RateWindow{}, fmt.Errorf("unexpected rate reply length: %d", len(reply))
	}

	count, err := toInt64(reply[0])
	if err != nil {
		return storage.RateWindow{}, err
	}
	startMs, err := toInt64(reply[1])
	if err != nil {
		return storage.RateWindow{}, err
	}

	start := time.UnixMilli(startMs)
	return storage.RateWindow{
		Key:         key,
		Count:       count,
		WindowStart: start,
		WindowEnd:   start.Add(window),
	}, nil
}

// Len counts tracked addresses with a SCAN pass
func (s *rateWindowStore) Len(ctx context.Context) (int, error) {
	var cursor uint64
	var count int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, s.keys.ratePrefix()+"*", 100).Result()
		if err != nil {
			return count, err
		}
		count += len(keys)

		if cursor == 0 {
			break
		}
	}

	return count, nil
}
