package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

// sweepBatchSize bounds how many expired ids one sweep pass reads
const sweepBatchSize = 500

type sessionStore struct {
	client *redis.Client
	keys   keyspace
}

// Insert adds a new session unless a live one holds the id
func (s *sessionStore) Insert(ctx context.Context, session storage.Session) error {
	keys := []string{
		s.keys.session(session.ID),
		s.keys.usage(session.ID),
		s.keys.expiryIndex(),
	}
	args := []interface{}{
		session.ID,
		session.CreatedAt.Format(time.RFC3339Nano),
		session.CreatedAt.UnixMilli(),
		session.ExpiresAt.Format(time.RFC3339Nano),
		session.ExpiresAt.UnixMilli(),
		session.ClientAddress,
		session.ClientAgent,
		session.ExpiresAt.Sub(session.CreatedAt).Milliseconds(),
	}

	created, err := createSession.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return storage.ErrExists
	}

	return nil
}

// Touch validates a session and bumps its last activity in one script call
func (s *sessionStore) Touch(ctx context.Context, id string, now time.Time) (*storage.Session, error) {
	keys := []string{
		s.keys.session(id),
		s.keys.usage(id),
		s.keys.expiryIndex(),
	}
	args := []interface{}{id, now.UnixMilli(), now.Format(time.RFC3339Nano)}

	reply, err := touchSession.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty reply from touch script")
	}

	switch reply[0] {
	case "missing":
		return nil, storage.ErrNotFound
	case "expired":
		return nil, storage.ErrExpired
	case "ok":
	default:
		return nil, fmt.Errorf("unexpected touch status: %v", reply[0])
	}

	data, err := pairsToMap(reply[1:])
	if err != nil {
		return nil, err
	}

	return parseSession(data)
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, s.keys.session(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// Delete removes a session, its usage record and its index entry
func (s *sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.session(id), s.keys.usage(id))
		pipe.ZRem(ctx, s.keys.expiryIndex(), id)
		return nil
	})
	return err
}

// DeleteExpired removes expired sessions in batches. Each session is removed
// by its own script call so every key it touches is declared up front.
func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	nowMs := now.UnixMilli()
	rangeBy := &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(nowMs, 10),
		Count: sweepBatchSize,
	}

	var deletedCount int
	for {
		ids, err := s.client.ZRangeByScore(ctx, s.keys.expiryIndex(), rangeBy).Result()
		if err != nil {
			return deletedCount, fmt.Errorf("failed to list expired sessions: %w", err)
		}

		for _, id := range ids {
			keys := []string{
				s.keys.session(id),
				s.keys.usage(id),
				s.keys.expiryIndex(),
			}
			removed, err := sweepSession.Run(ctx, s.client, keys, id, nowMs).Int64()
			if err != nil {
				return deletedCount, fmt.Errorf("failed to sweep session: %w", err)
			}
			deletedCount += int(removed)
		}

		if len(ids) < sweepBatchSize {
			break
		}
	}

	return deletedCount, nil
}

// List returns all indexed sessions that still exist
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.ZRange(ctx, s.keys.expiryIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// Evicted by key TTL before the sweep reached it
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// Count returns the number of indexed sessions
func (s *sessionStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.keys.expiryIndex()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
