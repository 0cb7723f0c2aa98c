// Package store provides storage backends for DispatchPipe conversation
// sessions and dispatch history.
//
// The default backend is in-memory; SQLite, PostgreSQL and Redis backends are
// selected by DSN. All backends enforce one session record per phone number.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/resq108/DispatchPipe/internal/models"
)

// Store is the persistence abstraction used by the dispatcher and API.
type Store interface {
	// GetSession returns the session for a phone number, or nil when none exists.
	GetSession(ctx context.Context, phone string) (*models.Session, error)
	// SaveSession stores or replaces the session for sess.Phone.
	SaveSession(ctx context.Context, sess models.Session) error
	// DeleteSession removes the session for a phone number. Removing a
	// missing session is not an error.
	DeleteSession(ctx context.Context, phone string) error
	// ListSessions returns all current sessions.
	ListSessions(ctx context.Context) ([]models.Session, error)
	// CountSessions returns the number of current sessions.
	CountSessions(ctx context.Context) (int, error)
	// DeleteSessionsInactiveBefore evicts sessions whose LastActive is older
	// than cutoff and reports how many were removed. Backends with native
	// expiry may implement this as a no-op.
	DeleteSessionsInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
	// AddDispatch appends a completed emergency request to the dispatch history.
	AddDispatch(ctx context.Context, rec models.DispatchRecord) error
	// ListDispatches returns the dispatch history, oldest first.
	ListDispatches(ctx context.Context) ([]models.DispatchRecord, error)
	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN        string
	SessionTTL time.Duration
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets a Redis connection URL (redis://...).
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithSessionTTL sets the inactivity TTL after which sessions are evicted.
// Zero disables eviction.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// DetectDSNType classifies a DSN string as "postgres", "redis" or "sqlite".
// Anything that is not recognizably PostgreSQL or Redis is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// New creates a store backend based on the provided options. An empty DSN
// yields the in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Debug("store.New: detected PostgreSQL DSN")
		return NewPostgresStore(opts...)
	case "redis":
		slog.Debug("store.New: detected Redis URL")
		return NewRedisStore(opts...)
	default:
		slog.Debug("store.New: detected SQLite DSN", "db_path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore keeps sessions and dispatch history in process memory. It is
// the default backend and the one unit tests use.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]models.Session
	dispatches []models.DispatchRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

func (s *InMemoryStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[phone]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Phone] = sess
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phone)
	return nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *InMemoryStore) CountSessions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s *InMemoryStore) DeleteSessionsInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted int
	for phone, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, phone)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("InMemoryStore evicted inactive sessions", "count", evicted)
	}
	return evicted, nil
}

func (s *InMemoryStore) AddDispatch(ctx context.Context, rec models.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, rec)
	return nil
}

func (s *InMemoryStore) ListDispatches(ctx context.Context) ([]models.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dispatches := make([]models.DispatchRecord, len(s.dispatches))
	copy(dispatches, s.dispatches)
	return dispatches, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
