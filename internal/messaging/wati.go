package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// WATIOpts holds configuration options for the WATI service.
type WATIOpts struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// WATIOption defines a configuration option for the WATI service.
type WATIOption func(*WATIOpts)

// WithWATIAPIKey sets the WATI API key.
func WithWATIAPIKey(key string) WATIOption {
	return func(o *WATIOpts) { o.APIKey = key }
}

// WithWATIBaseURL sets the tenant API base URL, e.g. https://live-server-1234.wati.io/api/v1.
func WithWATIBaseURL(url string) WATIOption {
	return func(o *WATIOpts) { o.BaseURL = url }
}

// WithWATIHTTPClient overrides the HTTP client.
func WithWATIHTTPClient(client *http.Client) WATIOption {
	return func(o *WATIOpts) { o.HTTPClient = client }
}

// WATIService implements Service using the WATI session message API.
// Inbound messages arrive through the webhook endpoint, which feeds parsed
// events into this service via EmitInbound.
type WATIService struct {
	inboundEmitter
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewWATIService creates a WATI service based on provided options.
func NewWATIService(opts ...WATIOption) (*WATIService, error) {
	var cfg WATIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WATIService config loaded",
		"api_key_set", cfg.APIKey != "",
		"base_url_set", cfg.BaseURL != "")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("WATI API key must be provided")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("WATI base URL must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &WATIService{
		inboundEmitter: newInboundEmitter(),
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:     cfg.HTTPClient,
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WATIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a session message to the recipient. WATI addresses users
// by bare digits, so the recipient is canonicalized first.
func (s *WATIService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WATIService SendMessage validation error", "error", err, "to", to)
		return err
	}

	endpoint := fmt.Sprintf("%s/sendSessionMessage/%s?messageText=%s",
		s.baseURL, canonicalTo, url.QueryEscape(body))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("WATIService SendMessage request failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("WATIService SendMessage rejected", "status", resp.StatusCode, "to", canonicalTo, "response", string(snippet))
		return fmt.Errorf("WATI API returned status %d for %s", resp.StatusCode, canonicalTo)
	}

	slog.Debug("WATIService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Start is a no-op: inbound traffic arrives via the webhook endpoint.
func (s *WATIService) Start(ctx context.Context) error {
	slog.Debug("WATIService Start invoked")
	return nil
}

// Stop marks the service stopped and closes the inbound channel.
func (s *WATIService) Stop() error {
	if !s.closeInbound() {
		return nil
	}
	slog.Info("WATIService stopped")
	return nil
}
