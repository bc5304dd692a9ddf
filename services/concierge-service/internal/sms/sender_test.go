package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret")
	if err := s.Send(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["to"] != "+15551234567" || got["body"] != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, "").Send(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected error on non-2xx")
	}
	if err := NewWebhookSender("", "").Send(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected error without url")
	}
}
