package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/clinicware/atende/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied")

	return &PostgresStore{db: db}, nil
}

// GetSession returns the persisted session for phone, or nil if absent.
func (s *PostgresStore) GetSession(phone string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT phone, state, context, version, updated_at FROM sessions WHERE phone = $1`, phone)

	var sess models.Session
	var contextJSON sql.NullString
	var state string
	if err := row.Scan(&sess.Phone, &state, &contextJSON, &sess.Version, &sess.LastTouched); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Error("PostgresStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query session for %s: %w", phone, err)
	}
	sess.State = models.State(state)

	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &sess.Context); err != nil {
			slog.Error("PostgresStore GetSession context decode failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to decode session context for %s: %w", phone, err)
		}
	}
	return &sess, nil
}

// SaveSession inserts or updates the session row for its phone.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("failed to encode session context for %s: %w", sess.Phone, err)
	}
	if sess.LastTouched.IsZero() {
		sess.LastTouched = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (phone, state, context, version, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone) DO UPDATE SET state=EXCLUDED.state, context=EXCLUDED.context,
		 version=EXCLUDED.version, updated_at=EXCLUDED.updated_at`,
		sess.Phone, string(sess.State), string(contextJSON), sess.Version, sess.LastTouched)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "phone", sess.Phone)
		return fmt.Errorf("failed to save session for %s: %w", sess.Phone, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "phone", sess.Phone, "state", sess.State)
	return nil
}

// DeleteSession removes the session row for phone.
func (s *PostgresStore) DeleteSession(phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE phone = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

// LogMessage appends one message-log row.
func (s *PostgresStore) LogMessage(m models.MessageLog) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO message_logs (id, phone, message_id, direction, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Phone, m.MessageID, m.Direction, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore LogMessage failed", "error", err, "phone", m.Phone)
		return fmt.Errorf("failed to insert message log for %s: %w", m.Phone, err)
	}
	return nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
