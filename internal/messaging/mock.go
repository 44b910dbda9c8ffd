package messaging

import (
	"context"
	"strings"
	"sync"
)

// SentMessage records one outbound message captured by the mock.
type SentMessage struct {
	To   string
	Body string
}

// ReadEvent records one mark-as-read call captured by the mock.
type ReadEvent struct {
	To        string
	MessageID string
}

// MockService is an in-memory Service for tests.
type MockService struct {
	mu        sync.Mutex
	Sent      []SentMessage
	Reads     []ReadEvent
	SendErr   error
	Connected bool
}

// NewMockService creates a mock that reports itself connected.
func NewMockService() *MockService {
	return &MockService{Connected: true}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return strings.TrimSpace(recipient), nil
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) MarkRead(ctx context.Context, to string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads = append(m.Reads, ReadEvent{To: to, MessageID: messageID})
	return nil
}

func (m *MockService) CheckConnection(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected
}

func (m *MockService) Stop() error { return nil }

// LastSent returns the most recent outbound message, or nil.
func (m *MockService) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	last := m.Sent[len(m.Sent)-1]
	return &last
}

// SentCount returns how many messages were sent.
func (m *MockService) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
