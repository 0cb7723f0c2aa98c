// Package store provides storage backends for DispatchPipe.
//
// This file implements a Redis-backed store. Session eviction uses Redis'
// native key TTL, so DeleteSessionsInactiveBefore is a no-op here.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/resq108/DispatchPipe/internal/models"
)

const (
	// redisSessionPrefix namespaces session keys.
	redisSessionPrefix = "dispatchpipe:session:"
	// redisDispatchKey is the list holding dispatch history, oldest first.
	redisDispatchKey = "dispatchpipe:dispatches"
)

type RedisStore struct {
	client     *redis.Client
	sessionTTL time.Duration
}

// NewRedisStore creates a Redis store from a redis:// URL. When a session TTL
// is configured, every session write refreshes the key's expiry.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "url_set", cfg.DSN != "", "session_ttl", cfg.SessionTTL)

	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}

	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("Redis connection established")

	return &RedisStore{client: client, sessionTTL: cfg.SessionTTL}, nil
}

// NewRedisStoreWithClient wraps an existing client (used in tests with miniredis).
func NewRedisStoreWithClient(client *redis.Client, sessionTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, sessionTTL: sessionTTL}
}

func (s *RedisStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	data, err := s.client.Get(ctx, redisSessionPrefix+phone).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get session for %s: %w", phone, err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Error("RedisStore GetSession unmarshal failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to decode session for %s: %w", phone, err)
	}
	return &sess, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, sess models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		slog.Error("RedisStore SaveSession marshal failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to encode session for %s: %w", sess.Phone, err)
	}

	if err := s.client.Set(ctx, redisSessionPrefix+sess.Phone, data, s.sessionTTL).Err(); err != nil {
		slog.Error("RedisStore SaveSession failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to save session for %s: %w", sess.Phone, err)
	}
	slog.Debug("RedisStore SaveSession succeeded", "phone", sess.Phone, "state", sess.State)
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+phone).Err(); err != nil {
		slog.Error("RedisStore DeleteSession failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	iter := s.client.Scan(ctx, 0, redisSessionPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Key expired between SCAN and GET.
			continue
		}
		if err != nil {
			slog.Error("RedisStore ListSessions get failed", "error", err, "key", iter.Val())
			return nil, fmt.Errorf("failed to get session %s: %w", iter.Val(), err)
		}
		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			slog.Error("RedisStore ListSessions unmarshal failed", "error", err, "key", iter.Val())
			return nil, fmt.Errorf("failed to decode session %s: %w", iter.Val(), err)
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Err(); err != nil {
		slog.Error("RedisStore ListSessions scan failed", "error", err)
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	slog.Debug("RedisStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *RedisStore) CountSessions(ctx context.Context) (int, error) {
	var count int
	iter := s.client.Scan(ctx, 0, redisSessionPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		slog.Error("RedisStore CountSessions scan failed", "error", err)
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return count, nil
}

// DeleteSessionsInactiveBefore is a no-op: Redis evicts sessions through the
// key TTL set on every write.
func (s *RedisStore) DeleteSessionsInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	slog.Debug("RedisStore DeleteSessionsInactiveBefore skipped, eviction handled by key TTL")
	return 0, nil
}

func (s *RedisStore) AddDispatch(ctx context.Context, rec models.DispatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("RedisStore AddDispatch marshal failed", "error", err, "phone", rec.Phone)
		return fmt.Errorf("failed to encode dispatch for %s: %w", rec.Phone, err)
	}
	if err := s.client.RPush(ctx, redisDispatchKey, data).Err(); err != nil {
		slog.Error("RedisStore AddDispatch failed", "error", err, "phone", rec.Phone)
		return fmt.Errorf("failed to append dispatch for %s: %w", rec.Phone, err)
	}
	slog.Debug("RedisStore AddDispatch succeeded", "phone", rec.Phone, "emergency_type", rec.EmergencyType)
	return nil
}

func (s *RedisStore) ListDispatches(ctx context.Context) ([]models.DispatchRecord, error) {
	entries, err := s.client.LRange(ctx, redisDispatchKey, 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore ListDispatches failed", "error", err)
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}

	var dispatches []models.DispatchRecord
	for _, entry := range entries {
		var rec models.DispatchRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			slog.Error("RedisStore ListDispatches unmarshal failed", "error", err)
			return nil, fmt.Errorf("failed to decode dispatch entry: %w", err)
		}
		dispatches = append(dispatches, rec)
	}
	return dispatches, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis client")
	return s.client.Close()
}
