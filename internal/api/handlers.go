// Package api provides HTTP handlers for DispatchPipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/resq108/DispatchPipe/internal/classify"
	"github.com/resq108/DispatchPipe/internal/models"
)

// maxWebhookBody caps webhook request bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// webhookHandler serves the Meta Cloud API webhook: GET is the subscription
// verification handshake, POST carries message deliveries.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyHandler(w, r)
	case http.MethodPost:
		s.handleWebhookBody(w, r, s.metaParser, "meta")
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyHandler answers Meta's hub.challenge handshake. The challenge is
// echoed back as plain text only when the verify token matches.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.verifyToken == "" || token != s.verifyToken {
		slog.Warn("Server.verifyHandler: webhook verification rejected", "mode", mode)
		s.metrics.ObserveInbound("meta", "rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	slog.Info("Server.verifyHandler: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}

// watiWebhookHandler serves WATI message deliveries (POST /webhook/wati).
func (s *Server) watiWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.handleWebhookBody(w, r, s.watiParser, "wati")
}

// handleWebhookBody is the shared webhook path: decode, classify, dispatch.
// The provider retries on non-2xx, so everything past an unparsable body
// answers success; an ignorable payload is acknowledged without dispatching.
func (s *Server) handleWebhookBody(w http.ResponseWriter, r *http.Request, parser classify.Parser, provider string) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Server.handleWebhookBody: failed to read body", "error", err, "provider", provider)
		s.metrics.ObserveInbound(provider, "rejected")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	events, err := parser.Parse(body)
	if err != nil {
		slog.Warn("Server.handleWebhookBody: unparsable payload", "error", err, "provider", provider)
		s.metrics.ObserveInbound(provider, "rejected")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}
	if len(events) == 0 {
		slog.Debug("Server.handleWebhookBody: payload yielded no events", "provider", provider)
		s.metrics.ObserveInbound(provider, "ignored")
		writeJSONResponse(w, http.StatusOK, models.Ignored("No processable messages"))
		return
	}

	for _, ev := range events {
		if _, err := s.dispatcher.HandleEvent(r.Context(), ev); err != nil {
			slog.Error("Server.handleWebhookBody: dispatch failed", "error", err, "provider", provider, "from", ev.From)
			s.metrics.ObserveInbound(provider, "rejected")
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
			return
		}
		s.metrics.ObserveInbound(provider, "processed")
	}

	slog.Debug("Server.handleWebhookBody: events processed", "provider", provider, "count", len(events))
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// twilioWebhookHandler serves Twilio's form-encoded message webhook
// (POST /webhook/twilio).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		s.metrics.ObserveInbound("twilio", "rejected")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}

	ev, ok := classify.ParseTwilioForm(r.PostForm)
	if !ok {
		slog.Debug("Server.twilioWebhookHandler: form yielded no event")
		s.metrics.ObserveInbound("twilio", "ignored")
		writeJSONResponse(w, http.StatusOK, models.Ignored("No processable message"))
		return
	}

	if _, err := s.dispatcher.HandleEvent(r.Context(), ev); err != nil {
		slog.Error("Server.twilioWebhookHandler: dispatch failed", "error", err, "from", ev.From)
		s.metrics.ObserveInbound("twilio", "rejected")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	s.metrics.ObserveInbound("twilio", "processed")
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"provider":             s.provider,
		"messaging_configured": s.msgService != nil,
		"verify_token_set":     s.verifyToken != "",
		"admin_token_set":      s.adminToken != "",
	}
	statusCode := http.StatusOK

	if count, err := s.st.CountSessions(ctx); err != nil {
		slog.Warn("Health check: failed to count sessions", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach session store"
		statusCode = http.StatusServiceUnavailable
	} else {
		healthData["active_sessions"] = count
		s.metrics.SetActiveSessions(count)
	}

	writeJSONResponse(w, statusCode, healthData)
}

// requireAdmin gates a handler behind the admin bearer token. With no token
// configured the endpoints are disabled outright.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			slog.Warn("Server.requireAdmin: admin endpoint hit with no admin token configured", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Admin endpoints disabled"))
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.adminToken {
			slog.Warn("Server.requireAdmin: invalid admin token", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid admin token"))
			return
		}
		next(w, r)
	}
}

// sessionsHandler returns all live sessions (GET /sessions).
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessions, err := s.st.ListSessions(r.Context())
	if err != nil {
		slog.Error("Server.sessionsHandler: failed to list sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch sessions"))
		return
	}
	slog.Debug("Server.sessionsHandler: sessions fetched", "count", len(sessions))
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// dispatchesHandler returns the dispatch audit trail (GET /dispatches).
func (s *Server) dispatchesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	dispatches, err := s.st.ListDispatches(r.Context())
	if err != nil {
		slog.Error("Server.dispatchesHandler: failed to list dispatches", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch dispatches"))
		return
	}
	slog.Debug("Server.dispatchesHandler: dispatches fetched", "count", len(dispatches))
	writeJSONResponse(w, http.StatusOK, models.Success(dispatches))
}

// sendRequest is the body of the admin send endpoint.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// sendHandler sends an out-of-band message to a user (POST /send). Useful for
// operator follow-ups after a dispatch.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: body"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), canonicalTo, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}
