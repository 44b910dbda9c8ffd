// Package reminder sends appointment reminders the day before the visit.
//
// A cron job sweeps the live sessions on a fixed schedule and messages every
// patient whose booked appointment falls on the next day. Sends are best
// effort: a failure is logged and retried on the next sweep.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clinicware/atende/internal/messaging"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/validation"
)

// DefaultSchedule runs the sweep every hour on the hour.
const DefaultSchedule = "0 * * * *"

// Booking is one reminder candidate: a phone number with its booked date and
// time in the clinic's local format.
type Booking struct {
	Phone string
	Date  string
	Time  string
}

// BookingSource lists the bookings eligible for a reminder sweep.
type BookingSource interface {
	PendingBookings() []Booking
}

// Opts holds configuration options for the reminder scheduler.
type Opts struct {
	Schedule string
	Source   BookingSource
	Sender   messaging.Service
	Metrics  metrics.Sink
	Now      func() time.Time
}

// Option defines a configuration option for the reminder scheduler.
type Option func(*Opts)

// WithSchedule overrides the cron expression for the sweep.
func WithSchedule(expr string) Option {
	return func(o *Opts) { o.Schedule = expr }
}

// WithSource sets where bookings are read from.
func WithSource(s BookingSource) Option {
	return func(o *Opts) { o.Source = s }
}

// WithSender sets the messaging service used to deliver reminders.
func WithSender(s messaging.Service) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Scheduler runs the periodic reminder sweep.
type Scheduler struct {
	cron   *cron.Cron
	source BookingSource
	sender messaging.Service
	sink   metrics.Sink
	now    func() time.Time

	// sent tracks which phone+date pairs were already reminded, so hourly
	// sweeps do not message the same patient twice.
	mu   sync.Mutex
	sent map[string]bool
}

// NewScheduler creates and starts the reminder scheduler.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := Opts{
		Schedule: DefaultSchedule,
		Metrics:  metrics.NopSink{},
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Source == nil || cfg.Sender == nil {
		return nil, fmt.Errorf("booking source and sender must be provided")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	s := &Scheduler{
		cron:   c,
		source: cfg.Source,
		sender: cfg.Sender,
		sink:   cfg.Metrics,
		now:    cfg.Now,
		sent:   make(map[string]bool),
	}
	if _, err := c.AddFunc(cfg.Schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.Schedule, err)
	}
	c.Start()
	return s, nil
}

// Sweep messages every booking scheduled for tomorrow that has not been
// reminded yet.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tomorrow := s.now().AddDate(0, 0, 1).Format("02/01/2006")

	for _, b := range s.source.PendingBookings() {
		if b.Date != tomorrow {
			continue
		}
		key := b.Phone + "|" + b.Date
		if s.sent[key] {
			continue
		}

		body := fmt.Sprintf(`🔔 *Lembrete de Consulta*

Sua consulta está agendada para amanhã:

📅 Data: %s
⏰ Horário: %s

Chegue com 15 minutos de antecedência e traga documento com foto.

Digite 'menu' se precisar de ajuda.`, b.Date, b.Time)

		if err := s.sender.SendMessage(context.Background(), b.Phone, body); err != nil {
			slog.Error("Reminder send failed",
				"phone", validation.MaskPhone(b.Phone), "date", b.Date, "error", err)
			s.sink.Increment("reminder_send_failures")
			continue
		}

		s.sent[key] = true
		s.sink.Increment("reminders_sent")
		slog.Info("Reminder sent",
			"phone", validation.MaskPhone(b.Phone), "date", b.Date, "time", b.Time)
	}
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
