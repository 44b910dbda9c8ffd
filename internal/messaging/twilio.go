package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/clinicware/atende/internal/validation"
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// TwilioOpts holds configuration options for the Twilio-backed service.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio-backed service.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sender number in "whatsapp:+1234567890" format.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioService implements Service using the Twilio WhatsApp API. It is the
// alternative gateway for deployments that cannot use the hosted Z-API
// instance.
type TwilioService struct {
	client    *twilio.RestClient
	fromWhats string
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a Twilio-backed messaging service. Credentials fall
// back to the TWILIO_* environment variables when not provided via options.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio service config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioService{client: client, fromWhats: cfg.FromWhats}, nil
}

// ValidateAndCanonicalizeRecipient removes all non-numeric characters and
// validates the result has at least 10 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 10 {
		return "", fmt.Errorf("invalid phone number: %q is too short", validation.MaskPhone(canonical))
	}

	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient",
			"original", validation.MaskPhone(recipient),
			"canonical", validation.MaskPhone(canonical))
	}
	return canonical, nil
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err,
			"to", validation.MaskPhone(to))
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonical)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", validation.MaskPhone(canonical), "error", err)
		return fmt.Errorf("failed to send message: %w", err)
	}

	slog.Debug("Twilio message sent", "to", validation.MaskPhone(canonical))
	return nil
}

// MarkRead is a no-op: the Twilio WhatsApp API has no read-receipt endpoint.
func (s *TwilioService) MarkRead(ctx context.Context, to string, messageID string) error {
	slog.Debug("Twilio MarkRead ignored (unsupported)", "message_id", messageID)
	return nil
}

// CheckConnection verifies the credentials by fetching the account balance.
func (s *TwilioService) CheckConnection(ctx context.Context) bool {
	if _, err := s.client.Api.FetchBalance(nil); err != nil {
		slog.Error("Twilio connection check failed", "error", err)
		return false
	}
	return true
}

// Stop marks the service stopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
