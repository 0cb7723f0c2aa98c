package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewMetaCloudService_RequiresConfig(t *testing.T) {
	if _, err := NewMetaCloudService(WithMetaPhoneNumberID("123")); err == nil {
		t.Error("expected error when token missing")
	}
	if _, err := NewMetaCloudService(WithMetaToken("tok")); err == nil {
		t.Error("expected error when phone number ID missing")
	}
}

func TestMetaCloudService_SendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload metaTextMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, err := NewMetaCloudService(
		WithMetaToken("test-token"),
		WithMetaPhoneNumberID("555000111"),
		WithMetaBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("NewMetaCloudService: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "Help is on the way"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != "/555000111/messages" {
		t.Errorf("path = %q, want /555000111/messages", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPayload.MessagingProduct != "whatsapp" || gotPayload.Type != "text" {
		t.Errorf("payload = %+v", gotPayload)
	}
	if gotPayload.To != "15551234567" {
		t.Errorf("payload.To = %q, want canonicalized 15551234567", gotPayload.To)
	}
	if gotPayload.Text.Body != "Help is on the way" {
		t.Errorf("payload.Text.Body = %q", gotPayload.Text.Body)
	}
}

func TestMetaCloudService_SendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	svc, err := NewMetaCloudService(
		WithMetaToken("bad-token"),
		WithMetaPhoneNumberID("555000111"),
		WithMetaBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("NewMetaCloudService: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err == nil {
		t.Error("expected error on 401 response")
	}
}

func TestMetaCloudService_SendAfterStop(t *testing.T) {
	svc, err := NewMetaCloudService(
		WithMetaToken("tok"),
		WithMetaPhoneNumberID("555000111"),
	)
	if err != nil {
		t.Fatalf("NewMetaCloudService: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("SendMessage after Stop = %v, want ErrServiceStopped", err)
	}
}
