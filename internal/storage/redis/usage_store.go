package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/chatgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
}

// CheckAndReset creates or resets the usage record for a live session
func (s *usageStore) CheckAndReset(ctx context.Context, id, day string) (storage.UsageRecord, error) {
	keys := []string{s.keys.session(id), s.keys.usage(id)}

	reply, err := checkAndResetUsage.Run(ctx, s.client, keys, id, day).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.UsageRecord{}, storage.ErrNotFound
		}
		return storage.UsageRecord{}, fmt.Errorf("failed to check usage: %w", err)
	}

	return usageFromReply(reply)
}

// Add increments daily usage, clamped at limit
func (s *usageStore) Add(ctx context.Context, id, day string, seconds, limit int64) (storage.UsageRecord, error) {
	keys := []string{s.keys.usage(id)}

	reply, err := addUsage.Run(ctx, s.client, keys, day, seconds, limit).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.UsageRecord{}, storage.ErrNotFound
		}
		return storage.UsageRecord{}, fmt.Errorf("failed to add usage: %w", err)
	}

	return usageFromReply(reply)
}

// Get retrieves the usage record for id as stored
func (s *usageStore) Get(ctx context.Context, id string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, s.keys.usage(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseUsageRecord(data)
}

// List returns all usage records
func (s *usageStore) List(ctx context.Context) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)

	var cursor uint64
	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, s.keys.usagePrefix()+"*", 100).Result()
		if err != nil {
			return nil, err
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return nil, err
			}

			for _, cmd := range cmds {
				data, err := cmd.Result()
				if err != nil || len(data) == 0 {
					continue
				}

				record, err := parseUsageRecord(data)
				if err == nil {
					records = append(records, *record)
				}
			}
		}

		if cursor == 0 {
			break
		}
	}

	return records, nil
}

func usageFromReply(reply []interface{}) (storage.UsageRecord, error) {
	data, err := pairsToMap(reply)
	if err != nil {
		return storage.UsageRecord{}, err
	}

	record, err := parseUsageRecord(data)
	if err != nil {
		return storage.UsageRecord{}, err
	}

	return *record, nil
}
