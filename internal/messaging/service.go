// Package messaging defines the pluggable message-delivery abstraction and its
// gateway implementations.
//
// The conversation engine and webhook handlers talk to the Service interface
// only, so the WhatsApp gateway (Z-API by default, Twilio as an alternative)
// can be swapped without touching the dialogue logic.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/clinicware/atende/internal/resilience"
	"github.com/clinicware/atende/internal/validation"
	"github.com/clinicware/atende/internal/zapi"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails. Each gateway implements its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// MarkRead marks an inbound message as read, where the gateway supports it.
	MarkRead(ctx context.Context, to string, messageID string) error

	// CheckConnection reports whether the gateway is reachable and connected.
	CheckConnection(ctx context.Context) bool

	// Stop stops the service and releases resources.
	Stop() error
}

// ZAPIService implements Service on top of the Z-API gateway client.
type ZAPIService struct {
	client  *zapi.Client
	mu      sync.RWMutex
	stopped bool
}

// NewZAPIService creates a Service backed by the given gateway client.
func NewZAPIService(client *zapi.Client) *ZAPIService {
	return &ZAPIService{client: client}
}

// ValidateAndCanonicalizeRecipient normalizes a Brazilian phone number to its
// international digit form, without the gateway transport suffix.
func (s *ZAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	formatted, err := zapi.FormatPhone(recipient)
	if err != nil {
		return "", err
	}
	canonical := strings.TrimSuffix(formatted, zapi.TransportSuffix)

	if canonical != validation.OnlyDigits(recipient) {
		slog.Debug("ZAPIService canonicalized recipient",
			"original", validation.MaskPhone(recipient),
			"canonical", validation.MaskPhone(canonical))
	}
	return canonical, nil
}

// SendMessage sends a text message through the gateway.
func (s *ZAPIService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("ZAPIService SendMessage validation error", "error", err,
			"to", validation.MaskPhone(to))
		return err
	}

	_, err = s.client.SendText(ctx, canonical, body, 0)
	return err
}

// MarkRead marks an inbound message as read at the gateway.
func (s *ZAPIService) MarkRead(ctx context.Context, to string, messageID string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	return s.client.MarkAsRead(ctx, to, messageID)
}

// CheckConnection reports the gateway instance's connection state.
func (s *ZAPIService) CheckConnection(ctx context.Context) bool {
	connected, err := s.client.CheckConnection(ctx)
	if err != nil {
		return false
	}
	return connected
}

// BreakerMetrics returns the gateway client's circuit breaker counters.
func (s *ZAPIService) BreakerMetrics() resilience.BreakerMetrics {
	return s.client.BreakerMetrics()
}

// Stop marks the service stopped. Further sends return ErrServiceStopped.
func (s *ZAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
