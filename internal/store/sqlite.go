// Package store provides storage backends for DispatchPipe.
//
// This file implements a SQLite-backed store for sessions and dispatches.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/resq108/DispatchPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	query := `SELECT phone, state, emergency_type, location, created_at, last_active
			  FROM sessions WHERE phone = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, phone))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query session for %s: %w", phone, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess models.Session) error {
	query := `
		INSERT OR REPLACE INTO sessions (phone, state, emergency_type, location, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, sess.Phone, string(sess.State),
		nilIfEmpty(string(sess.EmergencyType)), nilIfEmpty(sess.Location),
		sess.CreatedAt, sess.LastActive)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to save session for %s: %w", sess.Phone, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "phone", sess.Phone, "state", sess.State)
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE phone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, state, emergency_type, location, created_at, last_active FROM sessions`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *SQLiteStore) CountSessions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		slog.Error("SQLiteStore CountSessions failed", "error", err)
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) DeleteSessionsInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteSessionsInactiveBefore failed", "error", err)
		return 0, fmt.Errorf("failed to evict inactive sessions: %w", err)
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		slog.Debug("SQLiteStore evicted inactive sessions", "count", evicted)
	}
	return int(evicted), nil
}

func (s *SQLiteStore) AddDispatch(ctx context.Context, rec models.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dispatches (phone, emergency_type, location, time) VALUES (?, ?, ?, ?)`,
		rec.Phone, string(rec.EmergencyType), rec.Location, rec.Time)
	if err != nil {
		slog.Error("SQLiteStore AddDispatch failed", "error", err, "phone", rec.Phone)
		return fmt.Errorf("failed to insert dispatch for %s: %w", rec.Phone, err)
	}
	slog.Debug("SQLiteStore AddDispatch succeeded", "phone", rec.Phone, "emergency_type", rec.EmergencyType)
	return nil
}

func (s *SQLiteStore) ListDispatches(ctx context.Context) ([]models.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, emergency_type, location, time FROM dispatches ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListDispatches query failed", "error", err)
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []models.DispatchRecord
	for rows.Next() {
		var rec models.DispatchRecord
		var et string
		if err := rows.Scan(&rec.Phone, &et, &rec.Location, &rec.Time); err != nil {
			slog.Error("SQLiteStore ListDispatches scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan dispatch row: %w", err)
		}
		rec.EmergencyType = models.EmergencyType(et)
		dispatches = append(dispatches, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListDispatches rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate dispatch rows: %w", err)
	}
	return dispatches, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
