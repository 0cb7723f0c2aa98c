package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/resq108/DispatchPipe/internal/models"
)

// metaObjectType is the object field value Meta sets on WhatsApp Business
// webhook deliveries.
const metaObjectType = "whatsapp_business_account"

// metaPayload mirrors the nested envelope of Meta Cloud API webhook bodies.
type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []metaMessage `json:"messages"`
				Statuses []metaStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaMessage struct {
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type metaStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// MetaParser parses Meta Cloud API (WhatsApp Business) webhook payloads.
type MetaParser struct{}

// Parse extracts text messages from a Meta webhook delivery. Only messages
// with type "text" yield events; status callbacks and other message types
// (images, native location attachments, ...) are acknowledged but ignored.
func (MetaParser) Parse(body []byte) ([]models.InboundEvent, error) {
	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode Meta webhook payload: %w", err)
	}

	if payload.Object != metaObjectType {
		slog.Debug("MetaParser.Parse: not a WhatsApp business payload", "object", payload.Object)
		return nil, nil
	}

	var events []models.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.From == "" {
					slog.Debug("MetaParser.Parse: ignoring non-text message", "from", msg.From, "type", msg.Type)
					continue
				}
				events = append(events, models.InboundEvent{
					From: msg.From,
					Body: msg.Text.Body,
					Time: parseMetaTimestamp(msg.Timestamp),
				})
			}
			for _, st := range change.Value.Statuses {
				// Delivery status updates are expected traffic, not messages.
				slog.Debug("MetaParser.Parse: message status update", "id", st.ID, "status", st.Status)
			}
		}
	}
	return events, nil
}

// parseMetaTimestamp converts Meta's string-encoded unix timestamp. Zero
// means unknown; callers fall back to their own clock.
func parseMetaTimestamp(ts string) int64 {
	if ts == "" {
		return 0
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		slog.Debug("MetaParser.Parse: unparsable message timestamp", "timestamp", ts)
		return 0
	}
	return sec
}
