package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skylarkhq/delver/internal/research"
)

func TestCompleteToolCalls(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"go\"}"}}]}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("test-key", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	msgs := []research.Message{research.UserMessage("hello")}
	tools := []research.ToolSchema{{Name: "search", Description: "web search", Parameters: map[string]any{"type": "object"}}}
	resp, err := p.Complete(context.Background(), msgs, tools)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search" {
		t.Fatalf("unexpected tool call %+v", tc)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil || args.Query != "go" {
		t.Fatalf("arguments = %s (err %v)", tc.Arguments, err)
	}
	if captured["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", captured["tool_choice"])
	}
}

func TestCompleteServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("test-key", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Complete(context.Background(), []research.Message{research.UserMessage("hi")}, nil)
	if !errors.Is(err, research.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestCompleteClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("test-key", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Complete(context.Background(), []research.Message{research.UserMessage("hi")}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, research.ErrModelUnavailable) {
		t.Fatalf("400 should not map to ErrModelUnavailable: %v", err)
	}
}
