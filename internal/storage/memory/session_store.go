package memory

import (
	"context"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
)

type sessionStore struct {
	store *Store
}

// Insert adds a new session, replacing an expired one with the same id.
func (s *sessionStore) Insert(ctx context.Context, session storage.Session) error {
	sh := s.store.shardFor(session.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.sessions[session.ID]; ok && !existing.IsExpired(session.CreatedAt) {
		return storage.ErrExists
	}

	stored := session
	sh.sessions[session.ID] = &stored
	delete(sh.usage, session.ID)
	return nil
}

// Touch validates and bumps a session under the shard write lock.
func (s *sessionStore) Touch(ctx context.Context, id string, now time.Time) (*storage.Session, error) {
	sh := s.store.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	session, ok := sh.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	if session.IsExpired(now) {
		delete(sh.sessions, id)
		delete(sh.usage, id)
		return nil, storage.ErrExpired
	}

	if now.After(session.LastActivityAt) {
		session.LastActivityAt = now
	}

	out := *session
	return &out, nil
}

// Get retrieves a session by ID without touching it
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	sh := s.store.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	session, ok := sh.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := *session
	return &out, nil
}

// Delete removes a session and its usage record
func (s *sessionStore) Delete(ctx context.Context, id string) error {
	sh := s.store.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.sessions, id)
	delete(sh.usage, id)
	return nil
}

// DeleteExpired sweeps one shard at a time so foreground callers on other
// shards are never blocked by the pass.
func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	count := 0

	for _, sh := range s.store.shards {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		sh.mu.Lock()
		for id, session := range sh.sessions {
			if session.IsExpired(now) {
				delete(sh.sessions, id)
				delete(sh.usage, id)
				count++
			}
		}
		sh.mu.Unlock()
	}

	return count, nil
}

// List returns a snapshot of all sessions
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)

	for _, sh := range s.store.shards {
		sh.mu.RLock()
		for _, session := range sh.sessions {
			sessions = append(sessions, *session)
		}
		sh.mu.RUnlock()
	}

	return sessions, nil
}

// Count returns the number of stored sessions, including expired ones not yet swept
func (s *sessionStore) Count(ctx context.Context) (int, error) {
	count := 0
	for _, sh := range s.store.shards {
		sh.mu.RLock()
		count += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return count, nil
}
