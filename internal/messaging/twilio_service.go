package messaging

import (
	"context"
	"log/slog"

	"github.com/resq108/DispatchPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API.
// Inbound messages arrive through the Twilio webhook endpoint, which feeds
// parsed events into this service via EmitInbound.
type TwilioService struct {
	inboundEmitter
	client twiliowhatsapp.Sender // real Twilio client or MockClient
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		inboundEmitter: newInboundEmitter(),
		client:         client,
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Start is a no-op: Twilio delivers inbound traffic via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped and closes the inbound channel.
func (s *TwilioService) Stop() error {
	if !s.closeInbound() {
		return nil
	}
	slog.Info("TwilioService stopped")
	return nil
}
