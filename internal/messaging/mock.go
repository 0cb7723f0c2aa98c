package messaging

import (
	"context"
	"sync"
)

// MockService implements Service in memory for tests. Sent messages are
// recorded and inbound events can be injected with EmitInbound.
type MockService struct {
	inboundEmitter
	mu      sync.Mutex
	sent    []SentMessage
	sendErr error
	started bool
}

// SentMessage is a recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

func NewMockService() *MockService {
	return &MockService{inboundEmitter: newInboundEmitter()}
}

// FailSendsWith makes subsequent SendMessage calls return err.
func (m *MockService) FailSendsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SentMessages returns a copy of the recorded outbound messages.
func (m *MockService) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *MockService) Stop() error {
	m.closeInbound()
	return nil
}
