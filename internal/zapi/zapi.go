// Package zapi wraps the Z-API WhatsApp gateway for Atende.
//
// It provides the outbound messaging operations (send text, mark as read,
// connection check) behind the shared resilient client: rate-limited to the
// gateway's 30 requests per minute, circuit-broken, and retried on transient
// failures. Phone numbers are normalized to the gateway's international form
// before sending.
package zapi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clinicware/atende/internal/httpx"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/resilience"
	"github.com/clinicware/atende/internal/validation"
)

// Constants for gateway configuration.
const (
	// DefaultBaseURL is the hosted gateway endpoint.
	DefaultBaseURL = "https://api.z-api.io"
	// TransportSuffix is appended to normalized numbers when sending.
	TransportSuffix = "@c.us"
	// CountryCode is prefixed to national numbers.
	CountryCode = "55"
	// DefaultMaxMessageLength bounds outbound text; longer messages are truncated.
	DefaultMaxMessageLength = 1000
)

// Opts holds configuration options for the gateway client.
type Opts struct {
	BaseURL          string
	InstanceID       string
	Token            string
	ClientToken      string
	MaxMessageLength int
	Metrics          metrics.Sink
	ClientOptions    []httpx.Option
}

// Option defines a configuration option for the gateway client.
type Option func(*Opts)

// WithBaseURL overrides the gateway base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithInstance sets the gateway instance ID and its token.
func WithInstance(instanceID, token string) Option {
	return func(o *Opts) {
		o.InstanceID = instanceID
		o.Token = token
	}
}

// WithClientToken sets the account-level security token.
func WithClientToken(token string) Option {
	return func(o *Opts) { o.ClientToken = token }
}

// WithMaxMessageLength overrides the outbound message length ceiling.
func WithMaxMessageLength(n int) Option {
	return func(o *Opts) { o.MaxMessageLength = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = sink }
}

// WithClientOptions appends extra options for the underlying resilient client.
// Mainly for tests (custom breaker, retry and rate-limit settings).
func WithClientOptions(opts ...httpx.Option) Option {
	return func(o *Opts) { o.ClientOptions = append(o.ClientOptions, opts...) }
}

// Client is the messaging-gateway client.
type Client struct {
	http   *httpx.Client
	maxLen int
	sink   metrics.Sink
}

// SendResult is the gateway's response to a send operation.
type SendResult struct {
	MessageID string `json:"messageId"`
	ZapID     string `json:"zaapId,omitempty"`
}

// NewClient creates a gateway client. Instance ID and token are required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:          DefaultBaseURL,
		MaxMessageLength: DefaultMaxMessageLength,
		Metrics:          metrics.NopSink{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.InstanceID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("gateway instance ID and token must be provided")
	}
	// The truncation ellipsis needs room.
	if cfg.MaxMessageLength < 4 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}

	base := fmt.Sprintf("%s/instances/%s/token/%s",
		strings.TrimRight(cfg.BaseURL, "/"), cfg.InstanceID, cfg.Token)

	clientOpts := append([]httpx.Option{
		httpx.WithBaseURL(base),
		httpx.WithHeader("Client-Token", cfg.ClientToken),
		httpx.WithRateLimit(30, 60*time.Second),
		httpx.WithBreaker(5, 60*time.Second),
		httpx.WithMetrics(cfg.Metrics),
	}, cfg.ClientOptions...)

	httpClient, err := httpx.NewClient("whatsapp", clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	return &Client{
		http:   httpClient,
		maxLen: cfg.MaxMessageLength,
		sink:   cfg.Metrics,
	}, nil
}

// BreakerMetrics returns a snapshot of the client's circuit breaker counters.
func (c *Client) BreakerMetrics() resilience.BreakerMetrics {
	return c.http.Breaker().Metrics()
}

// FormatPhone normalizes a Brazilian phone number to the gateway's wire form:
// country code, mobile-indicator digit when missing, and the transport suffix.
func FormatPhone(phone string) (string, error) {
	clean := validation.OnlyDigits(phone)
	if len(clean) < 10 {
		return "", fmt.Errorf("%w: phone number %q too short", httpx.ErrValidation, validation.MaskPhone(phone))
	}

	// National numbers get the country code.
	if len(clean) == 10 || len(clean) == 11 {
		clean = CountryCode + clean
	}

	// Mobile numbers without the leading 9 after the area code get one.
	if len(clean) == 12 && clean[4] != '9' {
		clean = clean[:4] + "9" + clean[4:]
	}

	return clean + TransportSuffix, nil
}

// validateMessage rejects empty text and truncates over-length text.
func (c *Client) validateMessage(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message cannot be empty", httpx.ErrValidation)
	}
	if len(trimmed) > c.maxLen {
		slog.Warn("Outbound message truncated",
			"original_length", len(trimmed), "max_length", c.maxLen)
		// Cut on a rune boundary so accented text is not mangled.
		cut := c.maxLen - 3
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut] + "..."
	}
	return trimmed, nil
}

// SendText sends a text message. delaySeconds is the gateway-side typing delay.
func (c *Client) SendText(ctx context.Context, phone, message string, delaySeconds int) (*SendResult, error) {
	formatted, err := FormatPhone(phone)
	if err != nil {
		return nil, err
	}
	validated, err := c.validateMessage(message)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"phone":        formatted,
		"message":      validated,
		"delayMessage": delaySeconds,
	}

	slog.Info("Sending WhatsApp message",
		"phone", validation.MaskPhone(formatted),
		"message_length", len(validated), "delay", delaySeconds)

	var result SendResult
	if err := c.http.PostJSON(ctx, "send-text", payload, &result); err != nil {
		slog.Error("Failed to send WhatsApp message",
			"phone", validation.MaskPhone(formatted), "error", err)
		c.sink.Increment("whatsapp_send_failures")
		return nil, err
	}

	slog.Info("WhatsApp message sent",
		"phone", validation.MaskPhone(formatted), "message_id", result.MessageID)
	c.sink.Increment("whatsapp_messages_sent")
	return &result, nil
}

// MarkAsRead marks an inbound message as read.
func (c *Client) MarkAsRead(ctx context.Context, phone, messageID string) error {
	formatted, err := FormatPhone(phone)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"phone":     formatted,
		"messageId": messageID,
	}
	if err := c.http.PostJSON(ctx, "read-message", payload, nil); err != nil {
		slog.Error("Failed to mark message as read",
			"phone", validation.MaskPhone(formatted), "message_id", messageID, "error", err)
		return err
	}

	slog.Debug("Message marked as read",
		"phone", validation.MaskPhone(formatted), "message_id", messageID)
	c.sink.Increment("whatsapp_messages_read")
	return nil
}

// CheckConnection reports whether the gateway instance is connected, updating
// the connectivity gauge.
func (c *Client) CheckConnection(ctx context.Context) (bool, error) {
	var status struct {
		Connected bool `json:"connected"`
	}
	if err := c.http.GetJSON(ctx, "status", nil, &status); err != nil {
		slog.Error("Failed to check gateway connection", "error", err)
		c.sink.Set("whatsapp_connection_status", 0)
		return false, err
	}

	slog.Info("Gateway connection status", "connected", status.Connected)
	if status.Connected {
		c.sink.Set("whatsapp_connection_status", 1)
	} else {
		c.sink.Set("whatsapp_connection_status", 0)
	}
	return status.Connected, nil
}

// SendTypingIndicator is a no-op: the gateway has no typing endpoint, the
// delayMessage field on SendText covers the same need.
func (c *Client) SendTypingIndicator(ctx context.Context, phone string) error {
	formatted, err := FormatPhone(phone)
	if err != nil {
		return err
	}
	slog.Debug("Typing indicator requested", "phone", validation.MaskPhone(formatted))
	return nil
}
