// Package api provides the HTTP surface of DispatchPipe.
//
// It exposes the provider webhook endpoints that receive WhatsApp messages,
// a health check, the Prometheus metrics endpoint, and token-gated admin
// endpoints for inspecting sessions and dispatch history.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resq108/DispatchPipe/internal/classify"
	"github.com/resq108/DispatchPipe/internal/dispatch"
	"github.com/resq108/DispatchPipe/internal/messaging"
	"github.com/resq108/DispatchPipe/internal/metrics"
	"github.com/resq108/DispatchPipe/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on context cancellation
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow-header clients
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
	AdminToken  string
	Provider    string
	Metrics     *metrics.Metrics
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token used for the Meta webhook verification handshake.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAdminToken sets the bearer token gating the admin endpoints. When empty
// the admin endpoints reject every request.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithProvider sets the messaging provider name reported by the health endpoint.
func WithProvider(provider string) Option {
	return func(o *Opts) { o.Provider = provider }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Server wires the webhook parsers, the dispatcher and the store behind the
// HTTP routes.
type Server struct {
	addr        string
	verifyToken string
	adminToken  string
	provider    string

	st         store.Store
	msgService messaging.Service
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics

	metaParser classify.Parser
	watiParser classify.Parser
}

// NewServer creates an API server over the given store, messaging service and
// dispatcher.
func NewServer(st store.Store, msgService messaging.Service, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Server.NewServer: creating API server",
		"addr", cfg.Addr,
		"verify_token_set", cfg.VerifyToken != "",
		"admin_token_set", cfg.AdminToken != "")

	return &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		adminToken:  cfg.AdminToken,
		provider:    cfg.Provider,
		st:          st,
		msgService:  msgService,
		dispatcher:  dispatcher,
		metrics:     cfg.Metrics,
		metaParser:  classify.MetaParser{},
		watiParser:  classify.WATIParser{},
	}
}

// Handler returns the routing table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Provider webhooks. GET /webhook is the Meta verification handshake,
	// POST /webhook carries Cloud API deliveries.
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/webhook/wati", s.watiWebhookHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)

	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	// Admin endpoints, gated by the admin token.
	mux.HandleFunc("/sessions", s.requireAdmin(s.sessionsHandler))
	mux.HandleFunc("/dispatches", s.requireAdmin(s.dispatchesHandler))
	mux.HandleFunc("/send", s.requireAdmin(s.sendHandler))

	return mux
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("DispatchPipe API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
