// Package api exposes the HTTP surface of Atende: the gateway webhooks, the
// health and root endpoints, and the Prometheus scrape endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicware/atende/internal/conversation"
	"github.com/clinicware/atende/internal/messaging"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/resilience"
	"github.com/clinicware/atende/internal/store"
	"github.com/clinicware/atende/internal/validation"
)

const (
	// AppName and AppVersion identify the service on the root endpoint.
	AppName    = "atende"
	AppVersion = "1.0.0"

	// DefaultRequestsPerMinute bounds inbound webhook traffic per client IP.
	DefaultRequestsPerMinute = 120
)

// Opts holds configuration options for the HTTP server.
type Opts struct {
	Engine            *conversation.Engine
	Messenger         messaging.Service
	Store             store.Store
	Metrics           metrics.Sink
	Snapshot          func() metrics.Snapshot
	Breakers          func() []resilience.BreakerMetrics
	RequestsPerMinute int
}

// Option defines a configuration option for the HTTP server.
type Option func(*Opts)

// WithEngine sets the conversation engine.
func WithEngine(e *conversation.Engine) Option {
	return func(o *Opts) { o.Engine = e }
}

// WithMessenger sets the outbound messaging service.
func WithMessenger(m messaging.Service) Option {
	return func(o *Opts) { o.Messenger = m }
}

// WithStore sets the durable store used for the message log.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithSnapshot sets the metric snapshot source reported by the health endpoint.
func WithSnapshot(fn func() metrics.Snapshot) Option {
	return func(o *Opts) { o.Snapshot = fn }
}

// WithBreakers sets the circuit breaker snapshot source reported by the health
// endpoint.
func WithBreakers(fn func() []resilience.BreakerMetrics) Option {
	return func(o *Opts) { o.Breakers = fn }
}

// WithRequestsPerMinute overrides the per-IP rate limit.
func WithRequestsPerMinute(n int) Option {
	return func(o *Opts) { o.RequestsPerMinute = n }
}

// Server wires the HTTP handlers to the conversation core.
type Server struct {
	engine    *conversation.Engine
	messenger messaging.Service
	store     store.Store
	sink      metrics.Sink
	snapshot  func() metrics.Snapshot
	breakers  func() []resilience.BreakerMetrics
	limit     int
	started   time.Time
}

// NewServer creates the HTTP server wiring.
func NewServer(opts ...Option) *Server {
	cfg := Opts{
		Metrics:           metrics.NopSink{},
		RequestsPerMinute: DefaultRequestsPerMinute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine:    cfg.Engine,
		messenger: cfg.Messenger,
		store:     cfg.Store,
		sink:      cfg.Metrics,
		snapshot:  cfg.Snapshot,
		breakers:  cfg.Breakers,
		limit:     cfg.RequestsPerMinute,
		started:   time.Now(),
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(s.limit, time.Minute))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhook/message", s.handleWebhookMessage)
		r.Post("/webhook/status", s.handleWebhookStatus)
		r.Post("/webhook/connected", s.handleWebhookConnected)
	})
	return r
}

// requestLogger logs each request with duration at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":     AppName,
		"version": AppVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.snapshot != nil {
		body["metrics"] = s.snapshot()
	}
	if s.breakers != nil {
		body["circuit_breakers"] = s.breakers()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleWebhookMessage processes an inbound gateway event: filters non-text
// events, strips the transport suffix from the phone, marks the message read,
// routes it through the conversation engine and sends the reply back.
func (s *Server) handleWebhookMessage(w http.ResponseWriter, r *http.Request) {
	var event models.WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.Warn("Malformed webhook payload", "error", err)
		s.sink.Increment("webhook_processing_errors")
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "error", "reason": "malformed_payload",
		})
		return
	}

	slog.Info("Webhook message received",
		"type", event.Type,
		"phone", validation.MaskPhone(event.Phone),
		"message_id", event.MessageID)
	s.sink.Increment("webhook_messages_received")

	if event.Type != models.WebhookEventReceived {
		slog.Debug("Ignoring non-text event", "type", event.Type)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored", "reason": "not_text_message",
		})
		return
	}

	text := ""
	if event.Text != nil {
		text = event.Text.Message
	}
	if event.Phone == "" || text == "" {
		slog.Warn("Invalid message data", "phone", validation.MaskPhone(event.Phone))
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error", "reason": "invalid_data",
		})
		return
	}

	phone := strings.TrimSuffix(event.Phone, "@c.us")

	if err := s.messenger.MarkRead(r.Context(), phone, event.MessageID); err != nil {
		slog.Warn("Mark-as-read failed", "phone", validation.MaskPhone(phone), "error", err)
	}
	s.logMessage(phone, event.MessageID, models.DirectionInbound, text)

	reply := s.engine.ProcessMessage(r.Context(), phone, text)

	sent := false
	if reply != "" {
		if err := s.messenger.SendMessage(r.Context(), phone, reply); err != nil {
			slog.Error("Failed to send reply", "phone", validation.MaskPhone(phone), "error", err)
			s.sink.Increment("webhook_processing_errors")
		} else {
			sent = true
			s.sink.Increment("webhook_responses_sent")
			s.logMessage(phone, "", models.DirectionOutbound, reply)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success", "response_sent": sent,
	})
}

// handleWebhookStatus records delivery status updates as counters.
func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	var event models.WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sink.Increment("webhook_status_errors")
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error"})
		return
	}

	slog.Info("Message status update",
		"message_id", event.MessageID, "status", event.Status)
	if event.Status != "" {
		s.sink.Increment("message_status_" + strings.ToLower(event.Status))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// handleWebhookConnected updates the gateway connection gauge.
func (s *Server) handleWebhookConnected(w http.ResponseWriter, r *http.Request) {
	var event models.WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sink.Increment("webhook_connection_errors")
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error"})
		return
	}

	if event.Connected != nil {
		slog.Info("WhatsApp connection status", "connected", *event.Connected)
		if *event.Connected {
			s.sink.Set("whatsapp_connection_status", 1)
		} else {
			s.sink.Set("whatsapp_connection_status", 0)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// logMessage writes to the durable message log, best effort.
func (s *Server) logMessage(phone, messageID, direction, content string) {
	if s.store == nil {
		return
	}
	err := s.store.LogMessage(models.MessageLog{
		Phone:     phone,
		MessageID: messageID,
		Direction: direction,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("Message log write failed",
			"phone", validation.MaskPhone(phone), "error", err)
	}
}
