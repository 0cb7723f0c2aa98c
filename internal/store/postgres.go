// Package store provides storage backends for DispatchPipe.
//
// This file implements a PostgreSQL-backed store for sessions and dispatches.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/resq108/DispatchPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	query := `SELECT phone, state, emergency_type, location, created_at, last_active
			  FROM sessions WHERE phone = $1`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, phone))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query session for %s: %w", phone, err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess models.Session) error {
	query := `
		INSERT INTO sessions (phone, state, emergency_type, location, created_at, last_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET
			state = EXCLUDED.state,
			emergency_type = EXCLUDED.emergency_type,
			location = EXCLUDED.location,
			created_at = EXCLUDED.created_at,
			last_active = EXCLUDED.last_active`

	_, err := s.db.ExecContext(ctx, query, sess.Phone, string(sess.State),
		nilIfEmpty(string(sess.EmergencyType)), nilIfEmpty(sess.Location),
		sess.CreatedAt, sess.LastActive)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to save session for %s: %w", sess.Phone, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "phone", sess.Phone, "state", sess.State)
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE phone = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, state, emergency_type, location, created_at, last_active FROM sessions`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			slog.Error("PostgresStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *PostgresStore) CountSessions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		slog.Error("PostgresStore CountSessions failed", "error", err)
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteSessionsInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteSessionsInactiveBefore failed", "error", err)
		return 0, fmt.Errorf("failed to evict inactive sessions: %w", err)
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		slog.Debug("PostgresStore evicted inactive sessions", "count", evicted)
	}
	return int(evicted), nil
}

func (s *PostgresStore) AddDispatch(ctx context.Context, rec models.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dispatches (phone, emergency_type, location, time) VALUES ($1, $2, $3, $4)`,
		rec.Phone, string(rec.EmergencyType), rec.Location, rec.Time)
	if err != nil {
		slog.Error("PostgresStore AddDispatch failed", "error", err, "phone", rec.Phone)
		return fmt.Errorf("failed to insert dispatch for %s: %w", rec.Phone, err)
	}
	slog.Debug("PostgresStore AddDispatch succeeded", "phone", rec.Phone, "emergency_type", rec.EmergencyType)
	return nil
}

func (s *PostgresStore) ListDispatches(ctx context.Context) ([]models.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, emergency_type, location, time FROM dispatches ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListDispatches query failed", "error", err)
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []models.DispatchRecord
	for rows.Next() {
		var rec models.DispatchRecord
		var et string
		if err := rows.Scan(&rec.Phone, &et, &rec.Location, &rec.Time); err != nil {
			slog.Error("PostgresStore ListDispatches scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan dispatch row: %w", err)
		}
		rec.EmergencyType = models.EmergencyType(et)
		dispatches = append(dispatches, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListDispatches rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate dispatch rows: %w", err)
	}
	return dispatches, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
