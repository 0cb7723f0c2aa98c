package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resq108/DispatchPipe/internal/models"
)

// watiPayload is the flat shape WATI posts for inbound session messages.
type watiPayload struct {
	WaID string `json:"waId"`
	Text string `json:"text"`
}

// WATIParser parses WATI webhook payloads.
type WATIParser struct{}

// Parse extracts the single message a WATI delivery carries. WATI sometimes
// prefixes the sender with "whatsapp:"; the prefix is stripped so the rest of
// the pipeline sees a bare phone number. A payload with no sender or no text
// is ignorable.
func (WATIParser) Parse(body []byte) ([]models.InboundEvent, error) {
	var payload watiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode WATI webhook payload: %w", err)
	}

	from := strings.TrimPrefix(payload.WaID, "whatsapp:")
	text := strings.TrimSpace(payload.Text)
	if from == "" || text == "" {
		slog.Debug("WATIParser.Parse: ignoring payload without sender or text", "from_set", from != "", "text_set", text != "")
		return nil, nil
	}

	return []models.InboundEvent{{From: from, Body: payload.Text}}, nil
}
