package redis

// Package redis provides Redis-based adapters for the local auth API.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ ports.SessionStore = (*SessionStore)(nil)

// ErrNotFound is returned when a session record is absent or expired.
var ErrNotFound = apperrors.NotFound("session not found")

// SessionStore keeps server-side session records so issued tokens can be revoked.
// Records expire with the token they back. A per-user set indexes live session ids.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewSessionStore creates a Redis session store using the "session:" prefix.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithPrefix(client, "session:")
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

func (s *SessionStore) key(id string) string        { return s.prefix + id }
func (s *SessionStore) userKey(userID string) string { return s.prefix + "user:" + userID }

func (s *SessionStore) Save(ctx context.Context, rec domainauth.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.ID), data, ttl)
	if rec.UserID != "" {
		uk := s.userKey(rec.UserID)
		pipe.SAdd(ctx, uk, rec.ID)
		// Tokens share one TTL, so the newest session outlives the rest of the index.
		pipe.Expire(ctx, uk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.SessionRecord, error) {
	if id == "" {
		return domainauth.SessionRecord{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.SessionRecord{}, ErrNotFound
		}
		return domainauth.SessionRecord{}, fmt.Errorf("redis get: %w", err)
	}

	var rec domainauth.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domainauth.SessionRecord{}, fmt.Errorf("unmarshal session: %w", err)
	}

	if !s.now().Before(rec.ExpiresAt) {
		if err := s.Delete(ctx, id); err != nil {
			return domainauth.SessionRecord{}, fmt.Errorf("cleanup expired session: %w", err)
		}
		return domainauth.SessionRecord{}, ErrNotFound
	}

	return rec, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get session: %w", err)
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}

	var rec domainauth.SessionRecord
	if json.Unmarshal(data, &rec) == nil && rec.UserID != "" {
		if err := s.client.SRem(ctx, s.userKey(rec.UserID), id).Err(); err != nil {
			return fmt.Errorf("redis unindex session: %w", err)
		}
	}
	return nil
}

// DeleteAllForUser revokes every live session of userID and returns how many were removed.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}

	uk := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, uk).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete user sessions: %w", err)
	}
	if err := s.client.Del(ctx, uk).Err(); err != nil {
		return int(removed), fmt.Errorf("redis delete user index: %w", err)
	}
	return int(removed), nil
}
