// Package gestaods wraps the GestãoDS scheduling backend for Atende.
//
// It exposes patient lookup and the appointment operations behind the shared
// resilient client, with two independent TTL caches: patient records for five
// minutes and available time slots for two minutes. Booking an appointment
// invalidates the slot cache for its date.
package gestaods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/clinicware/atende/internal/httpx"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/resilience"
	"github.com/clinicware/atende/internal/validation"
)

// DefaultBaseURL is the hosted backend endpoint.
const DefaultBaseURL = "https://apidev.gestaods.com.br"

// Cache TTLs. Patient records change rarely; slot availability goes stale fast.
const (
	PatientCacheTTL  = 5 * time.Minute
	ScheduleCacheTTL = 2 * time.Minute
)

// Opts holds configuration options for the scheduling client.
type Opts struct {
	BaseURL       string
	Token         string
	Metrics       metrics.Sink
	PatientTTL    time.Duration
	ScheduleTTL   time.Duration
	ClientOptions []httpx.Option
}

// Option defines a configuration option for the scheduling client.
type Option func(*Opts)

// WithBaseURL sets the backend base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the API token embedded in endpoint paths.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = sink }
}

// WithCacheTTLs overrides the patient and schedule cache TTLs.
func WithCacheTTLs(patient, schedule time.Duration) Option {
	return func(o *Opts) {
		o.PatientTTL = patient
		o.ScheduleTTL = schedule
	}
}

// WithClientOptions appends extra options for the underlying resilient client.
func WithClientOptions(opts ...httpx.Option) Option {
	return func(o *Opts) { o.ClientOptions = append(o.ClientOptions, opts...) }
}

// Client is the scheduling-backend client.
type Client struct {
	http     *httpx.Client
	token    string
	sink     metrics.Sink
	patients *resilience.Cache[string, models.Patient]
	slots    *resilience.Cache[string, []string]
}

// NewClient creates a scheduling client. Base URL and token are required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:     DefaultBaseURL,
		Metrics:     metrics.NopSink{},
		PatientTTL:  PatientCacheTTL,
		ScheduleTTL: ScheduleCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("scheduling API token must be provided")
	}

	clientOpts := append([]httpx.Option{
		httpx.WithBaseURL(cfg.BaseURL),
		httpx.WithBreaker(3, 30*time.Second),
		httpx.WithRetry(3, 2*time.Second, 8*time.Second),
		httpx.WithTimeout(15 * time.Second),
		httpx.WithMetrics(cfg.Metrics),
	}, cfg.ClientOptions...)

	httpClient, err := httpx.NewClient("gestaods", clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduling client: %w", err)
	}

	return &Client{
		http:     httpClient,
		token:    cfg.Token,
		sink:     cfg.Metrics,
		patients: resilience.NewCache[string, models.Patient](cfg.PatientTTL),
		slots:    resilience.NewCache[string, []string](cfg.ScheduleTTL),
	}, nil
}

// BreakerMetrics returns a snapshot of the client's circuit breaker counters.
func (c *Client) BreakerMetrics() resilience.BreakerMetrics {
	return c.http.Breaker().Metrics()
}

// GetPatient looks a patient up by CPF. A missing patient is a normal outcome:
// it returns (nil, nil). Results are cached.
func (c *Client) GetPatient(ctx context.Context, cpf string) (*models.Patient, error) {
	if p, ok := c.patients.Get(cpf); ok {
		slog.Debug("Patient found in cache", "cpf", validation.Mask(cpf))
		return &p, nil
	}

	endpoint := fmt.Sprintf("api/dev-paciente/%s/%s/", c.token, cpf)
	var patient models.Patient
	err := c.http.GetJSON(ctx, endpoint, nil, &patient)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			slog.Info("Patient not found", "cpf", validation.Mask(cpf))
			return nil, nil
		}
		slog.Error("Failed to get patient", "cpf", validation.Mask(cpf), "error", err)
		return nil, err
	}

	c.patients.Put(cpf, patient)
	slog.Info("Patient found", "cpf", validation.Mask(cpf))
	return &patient, nil
}

// GetAvailableDates fetches the bookable dates.
func (c *Client) GetAvailableDates(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("api/dev-agendamento/dias-disponiveis/%s", c.token)
	var result struct {
		Dates []string `json:"dias_disponiveis"`
	}
	if err := c.http.GetJSON(ctx, endpoint, nil, &result); err != nil {
		slog.Error("Failed to get available dates", "error", err)
		return nil, err
	}
	slog.Info("Available dates retrieved", "count", len(result.Dates))
	return result.Dates, nil
}

// GetAvailableTimes fetches the bookable times for a date. Results are cached.
func (c *Client) GetAvailableTimes(ctx context.Context, date string) ([]string, error) {
	if times, ok := c.slots.Get(date); ok {
		slog.Debug("Times found in cache", "date", date)
		return times, nil
	}

	endpoint := fmt.Sprintf("api/dev-agendamento/horarios-disponiveis/%s", c.token)
	query := url.Values{"data": []string{date}}
	var result struct {
		Times []string `json:"horarios_disponiveis"`
	}
	if err := c.http.GetJSON(ctx, endpoint, query, &result); err != nil {
		slog.Error("Failed to get available times", "date", date, "error", err)
		return nil, err
	}

	c.slots.Put(date, result.Times)
	slog.Info("Available times retrieved", "date", date, "count", len(result.Times))
	return result.Times, nil
}

// CreateAppointment books an appointment and invalidates the slot cache for
// its date.
func (c *Client) CreateAppointment(ctx context.Context, req models.AppointmentRequest) (*models.Appointment, error) {
	payload := map[string]any{
		"token":         c.token,
		"cpf":           req.CPF,
		"paciente_nome": req.PatientName,
		"data":          req.Date,
		"horario":       req.Time,
	}

	var appointment models.Appointment
	if err := c.http.PostJSON(ctx, "api/dev-agendamento/agendar/", payload, &appointment); err != nil {
		slog.Error("Failed to create appointment",
			"date", req.Date, "time", req.Time, "error", err)
		c.sink.Increment("gestaods_appointment_creation_failed")
		return nil, err
	}

	c.slots.Invalidate(req.Date)

	slog.Info("Appointment created", "date", req.Date, "time", req.Time)
	c.sink.Increment("gestaods_appointments_created")
	return &appointment, nil
}

// RescheduleAppointment moves an existing appointment to a new date and time.
func (c *Client) RescheduleAppointment(ctx context.Context, appointmentID, newDate, newTime string) (*models.Appointment, error) {
	payload := map[string]any{
		"token":          c.token,
		"agendamento_id": appointmentID,
		"nova_data":      newDate,
		"novo_horario":   newTime,
	}

	var appointment models.Appointment
	if err := c.http.PutJSON(ctx, "api/dev-agendamento/reagendar/", payload, &appointment); err != nil {
		slog.Error("Failed to reschedule appointment",
			"appointment_id", appointmentID, "error", err)
		c.sink.Increment("gestaods_appointment_reschedule_failed")
		return nil, err
	}

	c.slots.Invalidate(newDate)

	slog.Info("Appointment rescheduled",
		"appointment_id", appointmentID, "new_date", newDate, "new_time", newTime)
	c.sink.Increment("gestaods_appointments_rescheduled")
	return &appointment, nil
}

// GetAppointment fetches a single appointment by its backend ID.
func (c *Client) GetAppointment(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	query := url.Values{
		"token":          []string{c.token},
		"agendamento_id": []string{appointmentID},
	}
	var appointment models.Appointment
	err := c.http.GetJSON(ctx, "api/dev-agendamento/retornar-agendamento/", query, &appointment)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get appointment", "appointment_id", appointmentID, "error", err)
		return nil, err
	}
	slog.Debug("Appointment retrieved", "appointment_id", appointmentID)
	return &appointment, nil
}

// CheckConnection probes the backend by fetching available dates, updating the
// connectivity gauge.
func (c *Client) CheckConnection(ctx context.Context) bool {
	_, err := c.GetAvailableDates(ctx)
	if err != nil {
		slog.Error("Scheduling backend connection check failed", "error", err)
		c.sink.Set("gestaods_connection_status", 0)
		return false
	}
	c.sink.Set("gestaods_connection_status", 1)
	return true
}
