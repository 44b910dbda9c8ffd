// Package conversation implements the per-conversation dialogue state machine.
//
// Every inbound message runs through a fixed precedence: fast rejection of
// oversized or link-heavy text, global command overrides that jump back to the
// menu, then dispatch to the handler bound to the session's current state. An
// unknown state self-heals to the start handler. Handlers compute the reply
// and the next state as one unit; the commit happens under the session
// store's per-identifier serialization point, so concurrent messages from the
// same number never interleave a read with another's write.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/session"
	"github.com/clinicware/atende/internal/validation"
)

const (
	// MaxInboundLength is the fast-rejection ceiling for inbound text.
	MaxInboundLength = 100
	// maxAtMarkers is the fast-rejection ceiling for '@' occurrences.
	maxAtMarkers = 2

	// maxDateOptions and maxTimeOptions bound the numbered lists offered to
	// the patient.
	maxDateOptions = 5
	maxTimeOptions = 8
)

// globalCommands force a return to the start state from anywhere.
var globalCommands = map[string]bool{
	"menu":     true,
	"0":        true,
	"voltar":   true,
	"cancelar": true,
	"sair":     true,
	"ajuda":    true,
}

// Scheduling is the slice of the clinic backend the dialogue handlers need.
type Scheduling interface {
	GetPatient(ctx context.Context, cpf string) (*models.Patient, error)
	GetAvailableDates(ctx context.Context) ([]string, error)
	GetAvailableTimes(ctx context.Context, date string) ([]string, error)
	CreateAppointment(ctx context.Context, req models.AppointmentRequest) (*models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

// Opts holds configuration options for the conversation engine.
type Opts struct {
	Sessions      *session.Store
	Scheduling    Scheduling
	Metrics       metrics.Sink
	ClinicName    string
	ClinicPhone   string
	ClinicAddress string
	Now           func() time.Time
}

// Option defines a configuration option for the conversation engine.
type Option func(*Opts)

// WithSessions sets the session store.
func WithSessions(s *session.Store) Option {
	return func(o *Opts) { o.Sessions = s }
}

// WithScheduling sets the clinic scheduling backend.
func WithScheduling(s Scheduling) Option {
	return func(o *Opts) { o.Scheduling = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClinic sets the clinic identity used in replies.
func WithClinic(name, phone, address string) Option {
	return func(o *Opts) {
		o.ClinicName = name
		o.ClinicPhone = phone
		o.ClinicAddress = address
	}
}

// WithNow overrides the clock. Tests use it to pin the greeting.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

type handlerFunc func(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext)

// Engine routes inbound text through the dialogue states.
type Engine struct {
	sessions *session.Store
	sched    Scheduling
	sink     metrics.Sink

	clinicName    string
	clinicPhone   string
	clinicAddress string
	now           func() time.Time

	handlers map[models.State]handlerFunc
}

// NewEngine creates a conversation engine. Sessions and Scheduling are
// required.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{
		Metrics:       metrics.NopSink{},
		ClinicName:    "Clínica Gabriela Nassif",
		ClinicPhone:   "(31) 9860-0366",
		ClinicAddress: "Endereço da Clínica",
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		sessions:      cfg.Sessions,
		sched:         cfg.Scheduling,
		sink:          cfg.Metrics,
		clinicName:    cfg.ClinicName,
		clinicPhone:   cfg.ClinicPhone,
		clinicAddress: cfg.ClinicAddress,
		now:           cfg.Now,
	}
	e.handlers = map[models.State]handlerFunc{
		models.StateStart:               e.handleStart,
		models.StateAwaitingIdentifier:  e.handleAwaitingIdentifier,
		models.StateChoosingDate:        e.handleChoosingDate,
		models.StateChoosingTime:        e.handleChoosingTime,
		models.StateConfirming:          e.handleConfirming,
		models.StateViewingAppointments: e.handleViewingAppointments,
		models.StateWaitingList:         e.handleWaitingList,
		models.StateHumanHandoff:        e.handleHumanHandoff,
	}
	return e
}

// quickValidate runs the fast pre-checks that need no state or I/O.
func quickValidate(text string) bool {
	if len(text) > MaxInboundLength {
		return false
	}
	if strings.Contains(strings.ToLower(text), "http") {
		return false
	}
	if strings.Count(text, "@") > maxAtMarkers {
		return false
	}
	return true
}

// ProcessMessage routes one inbound message for phone and returns the reply.
// It never returns an error: remote failures degrade to a generic reply and
// the session stays valid.
func (e *Engine) ProcessMessage(ctx context.Context, phone, text string) string {
	start := e.now()

	if !quickValidate(text) {
		e.sink.Increment("conversation_fast_rejections")
		return replyRejected
	}

	normalized := strings.ToLower(strings.TrimSpace(text))

	var reply string
	e.sessions.Do(phone, func() {
		if globalCommands[normalized] {
			e.sessions.Reset(phone)
			sess := e.sessions.Get(phone)
			reply, _, _ = e.handleStart(ctx, sess, normalized)
			return
		}

		sess := e.sessions.Get(phone)
		handler, ok := e.handlers[sess.State]
		if !ok {
			slog.Warn("Unknown conversation state, resetting",
				"phone", validation.MaskPhone(phone), "state", sess.State)
			sess = e.sessions.Reset(phone)
			handler = e.handleStart
		}

		next, nextState, nextCtx := handler(ctx, sess, normalized)
		reply = next

		if _, err := e.sessions.CommitIfUnchanged(phone, sess.Version, nextState, nextCtx); err != nil {
			slog.Error("Conversation commit failed",
				"phone", validation.MaskPhone(phone), "error", err)
			e.sink.Increment("conversation_processing_errors")
		}
	})

	e.sink.Record("conversation_response_time", e.now().Sub(start).Seconds())
	slog.Info("Message processed",
		"phone", validation.MaskPhone(phone), "response_length", len(reply))
	return reply
}

// selectOption parses a 1-based numbered menu selection against n options.
func selectOption(text string, n int) (int, bool) {
	if len(text) == 0 || len(text) > 2 {
		return 0, false
	}
	idx := 0
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
		idx = idx*10 + int(r-'0')
	}
	if idx < 1 || idx > n {
		return 0, false
	}
	return idx, true
}
