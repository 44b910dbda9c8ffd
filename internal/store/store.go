// Package store provides the durable storage backends for Atende.
//
// It persists conversation sessions and the message log behind a small Store
// interface, with SQLite and PostgreSQL implementations. The in-memory
// implementation backs tests.
package store

import (
	"sync"
	"time"

	"github.com/clinicware/atende/internal/models"
)

// Store is the durable persistence boundary. Failures here never fail message
// processing: the session layer treats writes as fire-and-forget.
type Store interface {
	// GetSession returns the persisted session for a phone, or nil if none exists.
	GetSession(phone string) (*models.Session, error)
	// SaveSession inserts or updates the session row for its phone.
	SaveSession(s models.Session) error
	// DeleteSession removes the session row, if any.
	DeleteSession(phone string) error
	// LogMessage appends one message-log row.
	LogMessage(m models.MessageLog) error
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a Store kept entirely in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	logs     []models.MessageLog
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

// GetSession returns the stored session for phone, or nil.
func (s *InMemoryStore) GetSession(phone string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[phone]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// SaveSession stores the session keyed by its phone.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Phone] = sess
	return nil
}

// DeleteSession removes the session for phone.
func (s *InMemoryStore) DeleteSession(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phone)
	return nil
}

// LogMessage appends a message-log entry.
func (s *InMemoryStore) LogMessage(m models.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, m)
	return nil
}

// Logs returns a copy of all message-log entries.
func (s *InMemoryStore) Logs() []models.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageLog(nil), s.logs...)
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
