package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultMetaBaseURL is the Meta Graph API endpoint for the Cloud API.
const DefaultMetaBaseURL = "https://graph.facebook.com/v18.0"

// MetaOpts holds configuration options for the Meta Cloud API service.
type MetaOpts struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// MetaOption defines a configuration option for the Meta Cloud API service.
type MetaOption func(*MetaOpts)

// WithMetaToken sets the Cloud API bearer token.
func WithMetaToken(token string) MetaOption {
	return func(o *MetaOpts) { o.Token = token }
}

// WithMetaPhoneNumberID sets the sending phone number ID.
func WithMetaPhoneNumberID(id string) MetaOption {
	return func(o *MetaOpts) { o.PhoneNumberID = id }
}

// WithMetaBaseURL overrides the Graph API base URL (used in tests).
func WithMetaBaseURL(url string) MetaOption {
	return func(o *MetaOpts) { o.BaseURL = url }
}

// WithMetaHTTPClient overrides the HTTP client.
func WithMetaHTTPClient(client *http.Client) MetaOption {
	return func(o *MetaOpts) { o.HTTPClient = client }
}

// MetaCloudService implements Service using the WhatsApp Cloud API.
// Inbound messages arrive through the webhook endpoint, which feeds parsed
// events into this service via EmitInbound.
type MetaCloudService struct {
	inboundEmitter
	token         string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
}

// metaTextMessage is the Cloud API send payload.
type metaTextMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             metaTextBody `json:"text"`
}

type metaTextBody struct {
	Body string `json:"body"`
}

// NewMetaCloudService creates a Meta Cloud API service based on provided options.
func NewMetaCloudService(opts ...MetaOption) (*MetaCloudService, error) {
	var cfg MetaOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("MetaCloudService config loaded",
		"token_set", cfg.Token != "",
		"phone_number_id_set", cfg.PhoneNumberID != "")

	if cfg.Token == "" {
		return nil, fmt.Errorf("WhatsApp Cloud API token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("WhatsApp phone number ID must be provided")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMetaBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &MetaCloudService{
		inboundEmitter: newInboundEmitter(),
		token:          cfg.Token,
		phoneNumberID:  cfg.PhoneNumberID,
		baseURL:        cfg.BaseURL,
		httpClient:     cfg.HTTPClient,
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *MetaCloudService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a text message through the Cloud API messages endpoint.
func (s *MetaCloudService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("MetaCloudService SendMessage validation error", "error", err, "to", to)
		return err
	}

	payload := metaTextMessage{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "text",
		Text:             metaTextBody{Body: body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("MetaCloudService SendMessage request failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("MetaCloudService SendMessage rejected", "status", resp.StatusCode, "to", canonicalTo, "response", string(snippet))
		return fmt.Errorf("cloud API returned status %d for %s", resp.StatusCode, canonicalTo)
	}

	slog.Debug("MetaCloudService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Start is a no-op: inbound traffic arrives via the webhook endpoint.
func (s *MetaCloudService) Start(ctx context.Context) error {
	slog.Debug("MetaCloudService Start invoked")
	return nil
}

// Stop marks the service stopped and closes the inbound channel.
func (s *MetaCloudService) Stop() error {
	if !s.closeInbound() {
		return nil
	}
	slog.Info("MetaCloudService stopped")
	return nil
}
