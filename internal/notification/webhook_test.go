package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSender_Post(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{AllowPrivateNetworks: true}, nil)
	if err := s.Post(context.Background(), srv.URL, map[string]string{"toolId": "abc"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got["toolId"] != "abc" {
		t.Errorf("body = %v", got)
	}
}

func TestWebhookSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{AllowPrivateNetworks: true}, nil)
	if err := s.Post(context.Background(), srv.URL, struct{}{}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWebhookSender_NoRedirect(t *testing.T) {
	hit := false
	target := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hit = true }))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{AllowPrivateNetworks: true}, nil)
	if err := s.Post(context.Background(), srv.URL, struct{}{}); err == nil {
		t.Error("expected error for redirect response")
	}
	if hit {
		t.Error("redirect was followed")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url          string
		allowPrivate bool
		wantErr      bool
	}{
		{"ftp://example.com/hook", false, true},
		{"http://localhost:8080/hook", false, true},
		{"http://127.0.0.1/hook", false, true},
		{"http://[::1]/hook", false, true},
		{"http://10.0.0.5/hook", false, true},
		{"http://127.0.0.1/hook", true, false},
		{"https:///hook", true, true},
	}
	for _, tt := range tests {
		err := validateWebhookURL(tt.url, tt.allowPrivate)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateWebhookURL(%q, %v) err = %v, wantErr %v", tt.url, tt.allowPrivate, err, tt.wantErr)
		}
	}

	s := NewWebhookSender(WebhookConfig{}, nil)
	if err := s.Post(context.Background(), "http://127.0.0.1:1/hook", nil); !errors.Is(err, ErrURLRejected) {
		t.Errorf("err = %v, want ErrURLRejected", err)
	}
}
