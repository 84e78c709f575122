package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestComplete(t *testing.T) {
	var got ChatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"Lesson text [Source 1]"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	out, err := c.Complete(context.Background(), ChatRequest{
		Model:     "google/gemini-2.0-flash-001",
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 8192,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Lesson text [Source 1]" {
		t.Errorf("out = %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if got.MaxTokens != 8192 || got.Model != "google/gemini-2.0-flash-001" {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded"}}`)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), ChatRequest{Model: "m"})
	rl, ok := IsRateLimit(err)
	if !ok {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream failure", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := IsRateLimit(err); ok {
		t.Error("502 must not be classified as rate limit")
	}
	se, ok := err.(*StatusError)
	if !ok || se.StatusCode != http.StatusBadGateway {
		t.Errorf("error = %#v, want StatusError 502", err)
	}
}

func TestComplete_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"id":"gen-1","choices":[]}`},
		{"provider error", `{"error":{"message":"model not found","code":404}}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			if _, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), ChatRequest{Model: "m"}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerDone
	}))
	defer srv.Close()
	defer close(handlerDone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClientWithBaseURL("k", srv.URL).Complete(ctx, ChatRequest{Model: "m"})
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not return promptly after context cancellation")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-10 * time.Second).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(ModelList{
			Object: "list",
			Data: []Model{
				{ID: "google/gemini-2.0-flash-001", Object: "model"},
				{ID: "openai/gpt-4o", Object: "model"},
			},
		})
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "google/gemini-2.0-flash-001" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelList{Object: "list"})
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if models == nil || len(models) != 0 {
		t.Errorf("models = %#v, want empty slice", models)
	}
}
