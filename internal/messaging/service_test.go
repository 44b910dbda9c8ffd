package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinicware/atende/internal/httpx"
	"github.com/clinicware/atende/internal/zapi"
)

func newZAPIService(t *testing.T, handler http.HandlerFunc) *ZAPIService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := zapi.NewClient(
		zapi.WithBaseURL(srv.URL),
		zapi.WithInstance("inst", "tok"),
		zapi.WithClientOptions(httpx.WithRetry(1, time.Millisecond, time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("zapi.NewClient failed: %v", err)
	}
	return NewZAPIService(client)
}

func TestZAPIServiceCanonicalizesRecipient(t *testing.T) {
	s := newZAPIService(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999999999", "5511999999999", false},
		{"11999999999", "5511999999999", false},
		{"(11) 99999-9999", "5511999999999", false},
		{"123", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := s.ValidateAndCanonicalizeRecipient(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestZAPIServiceSendMessage(t *testing.T) {
	var payload map[string]any
	s := newZAPIService(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/send-text") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"messageId":"m-1"}`))
	})

	if err := s.SendMessage(context.Background(), "11999999999", "Olá!"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if payload["phone"] != "5511999999999@c.us" {
		t.Errorf("phone = %v", payload["phone"])
	}
	if payload["message"] != "Olá!" {
		t.Errorf("message = %v", payload["message"])
	}
}

func TestZAPIServiceStopped(t *testing.T) {
	s := newZAPIService(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "5511999999999", "oi"); err != ErrServiceStopped {
		t.Fatalf("expected ErrServiceStopped, got %v", err)
	}
}

func TestZAPIServiceCheckConnection(t *testing.T) {
	up := newZAPIService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"connected":true}`))
	})
	if !up.CheckConnection(context.Background()) {
		t.Error("expected connected gateway to report true")
	}

	down := newZAPIService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"connected":false}`))
	})
	if down.CheckConnection(context.Background()) {
		t.Error("expected disconnected gateway to report false")
	}
}

func TestTwilioServiceRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewTwilioService(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewTwilioService(
		WithAccountSID("AC123"), WithAuthToken("secret"),
	); err == nil {
		t.Fatal("expected error without from number")
	}
}

func TestTwilioServiceCanonicalizesRecipient(t *testing.T) {
	s, err := NewTwilioService(
		WithAccountSID("AC123"),
		WithAuthToken("secret"),
		WithFromWhats("whatsapp:+14155238886"),
	)
	if err != nil {
		t.Fatalf("NewTwilioService failed: %v", err)
	}

	got, err := s.ValidateAndCanonicalizeRecipient("+55 (11) 99999-9999")
	if err != nil {
		t.Fatalf("ValidateAndCanonicalizeRecipient failed: %v", err)
	}
	if got != "5511999999999" {
		t.Errorf("canonical = %q", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient("abc"); err == nil {
		t.Error("expected error for non-numeric recipient")
	}
}
