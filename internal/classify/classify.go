// Package classify turns provider-specific webhook payloads into normalized
// inbound events.
//
// One parser exists per provider payload shape; all of them converge on
// models.InboundEvent. A payload with no identifiable sender or no text body
// is ignorable: the parser returns no events and no error, and the webhook
// still answers success. Only an unparsable body surfaces as an error.
package classify

import "github.com/resq108/DispatchPipe/internal/models"

// Parser normalizes one provider's webhook payload into inbound events.
type Parser interface {
	// Parse decodes the raw request body. It returns zero events for
	// ignorable payloads (status callbacks, non-text message types) and an
	// error only when the body cannot be decoded at all.
	Parse(body []byte) ([]models.InboundEvent, error)
}
