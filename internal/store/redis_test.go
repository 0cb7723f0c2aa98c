package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/resq108/DispatchPipe/internal/models"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, ttl)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t, 0)
	// The shared suite's eviction step expects zero evictions from backends
	// with native TTL, so run the session/dispatch parts directly.
	ctx := context.Background()

	sess := testSession("15551234567", models.StateAwaitingChoice)
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := s.GetSession(ctx, sess.Phone)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.State != models.StateAwaitingChoice {
		t.Fatalf("GetSession = %+v", got)
	}

	if missing, err := s.GetSession(ctx, "nobody"); err != nil || missing != nil {
		t.Fatalf("GetSession missing = %+v, %v", missing, err)
	}

	updated := testSession(sess.Phone, models.StateCompleted)
	if err := s.SaveSession(ctx, updated); err != nil {
		t.Fatalf("SaveSession overwrite: %v", err)
	}
	count, err := s.CountSessions(ctx)
	if err != nil {
		t.Fatalf("CountSessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("CountSessions = %d, want 1", count)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Location != "221 Baker Street" {
		t.Fatalf("ListSessions = %+v", sessions)
	}

	rec := models.DispatchRecord{Phone: sess.Phone, EmergencyType: models.EmergencyFire, Location: "221 Baker Street", Time: storeTestTime.Unix()}
	if err := s.AddDispatch(ctx, rec); err != nil {
		t.Fatalf("AddDispatch: %v", err)
	}
	dispatches, err := s.ListDispatches(ctx)
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if len(dispatches) != 1 || dispatches[0].EmergencyType != models.EmergencyFire {
		t.Fatalf("ListDispatches = %+v", dispatches)
	}

	if err := s.DeleteSession(ctx, sess.Phone); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if got, _ := s.GetSession(ctx, sess.Phone); got != nil {
		t.Fatalf("session survived delete: %+v", got)
	}
}

func TestRedisStore_SessionTTL(t *testing.T) {
	s, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	sess := testSession("15551234567", models.StateAwaitingChoice)
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// The key carries the configured TTL and expires with it.
	if ttl := mr.TTL(redisSessionPrefix + sess.Phone); ttl != time.Hour {
		t.Fatalf("key TTL = %v, want 1h", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if got, err := s.GetSession(ctx, sess.Phone); err != nil || got != nil {
		t.Fatalf("expired session = %+v, %v", got, err)
	}

	// The sweep itself is a no-op for Redis.
	evicted, err := s.DeleteSessionsInactiveBefore(ctx, time.Now())
	if err != nil || evicted != 0 {
		t.Fatalf("DeleteSessionsInactiveBefore = %d, %v", evicted, err)
	}
}
