// Package store provides the durable storage backends for Atende.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/clinicware/atende/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite file.
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

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

// GetSession returns the persisted session for phone, or nil if absent.
func (s *SQLiteStore) GetSession(phone string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT phone, state, context, version, updated_at FROM sessions WHERE phone = ?`, phone)

	var sess models.Session
	var contextJSON sql.NullString
	var state string
	if err := row.Scan(&sess.Phone, &state, &contextJSON, &sess.Version, &sess.LastTouched); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Error("SQLiteStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query session for %s: %w", phone, err)
	}
	sess.State = models.State(state)

	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &sess.Context); err != nil {
			slog.Error("SQLiteStore GetSession context decode failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to decode session context for %s: %w", phone, err)
		}
	}
	return &sess, nil
}

// SaveSession inserts or updates the session row for its phone.
func (s *SQLiteStore) SaveSession(sess models.Session) error {
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("failed to encode session context for %s: %w", sess.Phone, err)
	}
	if sess.LastTouched.IsZero() {
		sess.LastTouched = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (phone, state, context, version, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(phone) DO UPDATE SET state=excluded.state, context=excluded.context,
		 version=excluded.version, updated_at=excluded.updated_at`,
		sess.Phone, string(sess.State), string(contextJSON), sess.Version, sess.LastTouched)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to save session for %s: %w", sess.Phone, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "phone", sess.Phone, "state", sess.State)
	return nil
}

// DeleteSession removes the session row for phone.
func (s *SQLiteStore) DeleteSession(phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE phone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

// LogMessage appends one message-log row.
func (s *SQLiteStore) LogMessage(m models.MessageLog) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO message_logs (id, phone, message_id, direction, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Phone, m.MessageID, m.Direction, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore LogMessage failed", "error", err, "phone", m.Phone)
		return fmt.Errorf("failed to insert message log for %s: %w", m.Phone, err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
