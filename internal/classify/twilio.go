package classify

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/resq108/DispatchPipe/internal/models"
)

// ParseTwilioForm extracts an inbound event from a Twilio webhook form body.
// Twilio posts application/x-www-form-urlencoded with From and Body fields
// and addresses WhatsApp senders as "whatsapp:+15551234567". The second
// return value is false for deliveries missing either field.
func ParseTwilioForm(form url.Values) (models.InboundEvent, bool) {
	from := strings.TrimPrefix(form.Get("From"), "whatsapp:")
	body := form.Get("Body")
	if from == "" || body == "" {
		slog.Debug("ParseTwilioForm: ignoring form without sender or body", "from_set", from != "", "body_set", body != "")
		return models.InboundEvent{}, false
	}
	return models.InboundEvent{From: from, Body: body}, true
}
