// Package messaging provides pluggable WhatsApp delivery backends for DispatchPipe.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/resq108/DispatchPipe/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultHTTPTimeout bounds outbound API calls to the provider
	DefaultHTTPTimeout = 10 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches all non-numeric characters for phone canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]+`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and exposes a channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., listening for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming user messages.
	Inbound() <-chan models.InboundEvent
}

// canonicalizePhone removes all non-numeric characters and validates the
// result has at least 6 digits. Shared by every service implementation.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if canonical != recipient {
		slog.Debug("canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// inboundEmitter holds the inbound channel plumbing shared by webhook-fed
// services. Emission is non-blocking so a stalled consumer cannot wedge the
// webhook path.
type inboundEmitter struct {
	inbound chan models.InboundEvent
	mu      sync.RWMutex
	stopped bool
}

func newInboundEmitter() inboundEmitter {
	return inboundEmitter{inbound: make(chan models.InboundEvent, DefaultChannelBufferSize)}
}

// EmitInbound forwards a parsed inbound event to the consumer channel.
// Events are dropped with a warning when the channel stays full past the
// channel timeout. The read lock is held across the send so closeInbound
// cannot close the channel while an emitter is parked in its select.
func (e *inboundEmitter) EmitInbound(ev models.InboundEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn("dropping inbound event, service stopped", "from", ev.From)
		return
	}

	select {
	case e.inbound <- ev:
		slog.Debug("inbound event forwarded", "from", ev.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("inbound channel blocked, dropping event", "from", ev.From, "timeout", DefaultChannelTimeout)
	}
}

// Inbound returns the channel of incoming user messages.
func (e *inboundEmitter) Inbound() <-chan models.InboundEvent {
	return e.inbound
}

// closeInbound marks the emitter stopped and closes the inbound channel.
// Taking the write lock waits out any emitter still parked in its send, so
// the close never races a pending emit. Returns false if already stopped.
func (e *inboundEmitter) closeInbound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.stopped = true
	close(e.inbound)
	return true
}

func (e *inboundEmitter) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}
