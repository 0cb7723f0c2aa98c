package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/resq108/DispatchPipe/internal/dispatch"
	"github.com/resq108/DispatchPipe/internal/flow"
	"github.com/resq108/DispatchPipe/internal/messaging"
	"github.com/resq108/DispatchPipe/internal/models"
	"github.com/resq108/DispatchPipe/internal/store"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, store.Store, *messaging.MockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := messaging.NewMockService()
	d := dispatch.NewDispatcher(st, svc, dispatch.WithProvider("test"))
	opts = append([]Option{WithVerifyToken("verify-secret"), WithAdminToken("admin-secret"), WithProvider("test")}, opts...)
	return NewServer(st, svc, d, opts...), st, svc
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func metaBody(from, text string) string {
	return `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "` + from + `", "type": "text", "timestamp": "1749200000", "text": {"body": "` + text + `"}}
		]}}]}]
	}`
}

func TestWebhookVerification(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=challenge-123", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "challenge-123" {
		t.Errorf("body = %q, want the echoed challenge", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=challenge-123", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status with bad token = %d, want 403", rec.Code)
	}
}

func TestMetaWebhookFullFlow(t *testing.T) {
	srv, st, svc := newTestServer(t)
	handler := srv.Handler()
	phone := "15551234567"

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		handler.ServeHTTP(rec, req)
		return rec
	}

	for _, body := range []string{"help", "1", "Main Square"} {
		if rec := post(metaBody(phone, body)); rec.Code != http.StatusOK {
			t.Fatalf("POST /webhook with %q: status = %d, body %s", body, rec.Code, rec.Body.String())
		}
	}

	sent := svc.SentMessages()
	if len(sent) != 3 {
		t.Fatalf("sent = %d messages, want 3", len(sent))
	}
	if sent[0].Body != flow.WelcomeMenu {
		t.Errorf("first reply = %q, want welcome menu", sent[0].Body)
	}
	if sent[2].Body != flow.Confirmation(models.EmergencyMedical) {
		t.Errorf("final reply = %q, want medical confirmation", sent[2].Body)
	}

	sess, err := st.GetSession(context.Background(), phone)
	if err != nil || sess == nil {
		t.Fatalf("GetSession: %+v, %v", sess, err)
	}
	if sess.State != models.StateCompleted || sess.Location != "Main Square" {
		t.Errorf("session = %+v", sess)
	}
}

func TestMetaWebhookStatusUpdateIgnored(t *testing.T) {
	srv, _, svc := newTestServer(t)
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"statuses": [{"id": "wamid.1", "status": "delivered"}]}}]}]
	}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("response status = %q, want ignored", resp.Status)
	}
	if len(svc.SentMessages()) != 0 {
		t.Errorf("status update triggered %d sends", len(svc.SentMessages()))
	}
}

func TestMetaWebhookBadPayload(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWATIWebhook(t *testing.T) {
	srv, _, svc := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/wati",
		strings.NewReader(`{"waId": "whatsapp:15551234567", "text": "help"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body != flow.WelcomeMenu {
		t.Errorf("sent = %+v, want welcome menu to 15551234567", sent)
	}
}

func TestTwilioWebhook(t *testing.T) {
	srv, _, svc := newTestServer(t)
	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "help")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(svc.SentMessages()) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(svc.SentMessages()))
	}

	// A form without a sender is acknowledged but ignored.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("Body=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("response status = %q, want ignored", resp.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("health status = %v", health["status"])
	}
	if health["active_sessions"] != float64(0) {
		t.Errorf("active_sessions = %v, want 0", health["active_sessions"])
	}
	if health["provider"] != "test" {
		t.Errorf("provider = %v, want test", health["provider"])
	}
	if health["messaging_configured"] != true {
		t.Errorf("messaging_configured = %v, want true", health["messaging_configured"])
	}
	if health["verify_token_set"] != true || health["admin_token_set"] != true {
		t.Errorf("token presence = %v / %v, want true / true",
			health["verify_token_set"], health["admin_token_set"])
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	for _, path := range []string{"/sessions", "/dispatches"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, rec.Code)
		}

		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer wrong")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s with bad token: status = %d, want 401", path, rec.Code)
		}
	}

	// With no admin token configured the endpoints are disabled outright.
	srvNoToken, _, _ := newTestServer(t, WithAdminToken(""))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	srvNoToken.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin endpoint: status = %d, want 403", rec.Code)
	}
}

func TestSessionsAndDispatchesEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// Drive one full flow through the webhook so both listings have content.
	for _, body := range []string{"help", "2", "221 Baker Street"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(metaBody("15551234567", body)))
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("webhook status = %d", rec.Code)
		}
	}

	get := func(path string) models.APIResponse {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d", path, rec.Code)
		}
		return decodeResponse(t, rec)
	}

	sessions, ok := get("/sessions").Result.([]interface{})
	if !ok || len(sessions) != 1 {
		t.Errorf("sessions result = %+v, want 1 entry", sessions)
	}
	dispatches, ok := get("/dispatches").Result.([]interface{})
	if !ok || len(dispatches) != 1 {
		t.Errorf("dispatches result = %+v, want 1 entry", dispatches)
	}
}

func TestAdminSendEndpoint(t *testing.T) {
	srv, _, svc := newTestServer(t)
	handler := srv.Handler()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer admin-secret")
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{"to": "+1 (555) 123-4567", "body": "Ambulance rerouted, ETA 5 minutes"}`); rec.Code != http.StatusOK {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Errorf("sent = %+v", sent)
	}

	if rec := post(`{"to": "15551234567"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("send without body: status = %d, want 400", rec.Code)
	}
	if rec := post(`{"to": "xx", "body": "hi"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("send with bad recipient: status = %d, want 400", rec.Code)
	}
}
