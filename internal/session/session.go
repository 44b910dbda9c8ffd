// Package session tracks per-conversation state in memory with asynchronous
// write-through to a durable store.
//
// Reads are memory-first with a TTL: an entry older than the TTL is evicted
// and the durable store is consulted on the next read. Writes update memory
// synchronously and enqueue the durable persist to a background worker, so a
// slow or failing database never blocks message processing.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/store"
)

const (
	// DefaultTTL is how long an idle session stays in memory.
	DefaultTTL = 30 * time.Minute
	// DefaultQueueSize bounds the async persistence queue.
	DefaultQueueSize = 256

	// sweepInterval is the number of commits between full eviction sweeps.
	sweepInterval = 64
)

// ErrVersionConflict is returned by CommitIfUnchanged when the session was
// modified since the caller read it.
var ErrVersionConflict = errors.New("session version conflict")

// Opts holds configuration options for the session store.
type Opts struct {
	TTL       time.Duration
	QueueSize int
	Durable   store.Store
	Metrics   metrics.Sink
}

// Option defines a configuration option for the session store.
type Option func(*Opts)

// WithTTL sets the in-memory session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithQueueSize sets the persistence queue capacity.
func WithQueueSize(n int) Option {
	return func(o *Opts) { o.QueueSize = n }
}

// WithDurableStore sets the durable backend sessions are written through to.
func WithDurableStore(s store.Store) Option {
	return func(o *Opts) { o.Durable = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Store keeps live conversation sessions keyed by normalized phone number.
// All mutation goes through Do, which serializes work per identifier while
// letting independent conversations proceed in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	locks    map[string]*sync.Mutex
	commits  int
	closed   bool

	ttl     time.Duration
	durable store.Store
	metrics metrics.Sink

	queue chan models.Session
	wg    sync.WaitGroup
}

// NewStore creates a session store backed by the given options. The
// persistence worker starts immediately; call Close to drain it.
func NewStore(opts ...Option) *Store {
	cfg := Opts{
		TTL:       DefaultTTL,
		QueueSize: DefaultQueueSize,
		Metrics:   metrics.NopSink{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("session.NewStore invoked", "ttl", cfg.TTL, "queueSize", cfg.QueueSize,
		"durable", cfg.Durable != nil)

	s := &Store{
		sessions: make(map[string]models.Session),
		locks:    make(map[string]*sync.Mutex),
		ttl:      cfg.TTL,
		durable:  cfg.Durable,
		metrics:  cfg.Metrics,
		queue:    make(chan models.Session, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.persistWorker()
	return s
}

// Do runs fn while holding the lock for id. Calls for the same id are
// serialized in arrival order; calls for different ids run concurrently.
func (s *Store) Do(id string, fn func()) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}

// Get returns the live session for id, falling back to the durable store on a
// memory miss and creating a fresh session when neither has one. LastTouched
// is refreshed on every call.
func (s *Store) Get(id string) models.Session {
	now := time.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && now.Sub(sess.LastTouched) >= s.ttl {
		delete(s.sessions, id)
		ok = false
		s.metrics.Increment("session_ttl_evictions")
	}
	if ok {
		sess.LastTouched = now
		s.sessions[id] = sess
		s.mu.Unlock()
		return sess
	}
	s.mu.Unlock()

	if s.durable != nil {
		stored, err := s.durable.GetSession(id)
		if err != nil {
			slog.Error("session.Store Get durable fallback failed", "error", err, "id", id)
			s.metrics.Increment("session_restore_failures")
		} else if stored != nil {
			stored.LastTouched = now
			s.mu.Lock()
			s.sessions[id] = *stored
			s.mu.Unlock()
			s.metrics.Increment("session_restores")
			return *stored
		}
	}

	fresh := models.NewSession(id)
	s.mu.Lock()
	s.sessions[id] = fresh
	s.mu.Unlock()
	s.metrics.Increment("sessions_created")
	return fresh
}

// Commit stores the new state and context for id, bumps the version, and
// enqueues the durable write. It returns the committed session.
func (s *Store) Commit(id string, state models.State, ctx models.SessionContext) models.Session {
	now := time.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = models.NewSession(id)
	}
	sess.State = state
	sess.Context = ctx
	sess.Version++
	sess.LastTouched = now
	s.sessions[id] = sess
	s.commits++
	if s.commits%sweepInterval == 0 {
		s.sweepLocked(now)
	}
	s.mu.Unlock()

	s.enqueue(sess)
	return sess
}

// CommitIfUnchanged commits only if the live session still carries
// expectedVersion, making the caller's read-modify-write atomic. It returns
// ErrVersionConflict when another commit won the race.
func (s *Store) CommitIfUnchanged(id string, expectedVersion int64, state models.State, ctx models.SessionContext) (models.Session, error) {
	now := time.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && sess.Version != expectedVersion {
		s.mu.Unlock()
		s.metrics.Increment("session_version_conflicts")
		return models.Session{}, ErrVersionConflict
	}
	if !ok {
		if expectedVersion != 0 {
			s.mu.Unlock()
			s.metrics.Increment("session_version_conflicts")
			return models.Session{}, ErrVersionConflict
		}
		sess = models.NewSession(id)
	}
	sess.State = state
	sess.Context = ctx
	sess.Version = expectedVersion + 1
	sess.LastTouched = now
	s.sessions[id] = sess
	s.commits++
	if s.commits%sweepInterval == 0 {
		s.sweepLocked(now)
	}
	s.mu.Unlock()

	s.enqueue(sess)
	return sess, nil
}

// Reset returns id to a fresh initial session. Used by global commands and
// administrative resets.
func (s *Store) Reset(id string) models.Session {
	fresh := models.NewSession(id)

	s.mu.Lock()
	if prev, ok := s.sessions[id]; ok {
		fresh.Version = prev.Version + 1
	}
	s.sessions[id] = fresh
	s.mu.Unlock()

	s.enqueue(fresh)
	s.metrics.Increment("session_resets")
	return fresh
}

// Sessions returns a snapshot of all live in-memory sessions.
func (s *Store) Sessions() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Len reports how many sessions are live in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting writes and drains the persistence queue.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	s.wg.Wait()
	return nil
}

func (s *Store) sweepLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.LastTouched) >= s.ttl {
			delete(s.sessions, id)
			s.metrics.Increment("session_ttl_evictions")
		}
	}
}

func (s *Store) enqueue(sess models.Session) {
	if s.durable == nil {
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.queue <- sess:
	default:
		slog.Warn("session.Store persistence queue full, dropping write", "id", sess.Phone)
		s.metrics.Increment("session_persist_dropped")
	}
}

func (s *Store) persistWorker() {
	defer s.wg.Done()
	for sess := range s.queue {
		if err := s.durable.SaveSession(sess); err != nil {
			slog.Error("session.Store persist failed", "error", err, "id", sess.Phone)
			s.metrics.Increment("session_persist_failures")
			continue
		}
		s.metrics.Increment("session_persists")
	}
}
