package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellarlinkco/docarena/internal/claude"
)

func claudeMessageResponse(text string, inTok, outTok int) map[string]any {
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"content":       []map[string]any{{"type": "text", "text": text}},
		"model":         "test-model",
		"stop_reason":   "end_turn",
		"stop_sequence": "",
		"usage": map[string]any{
			"input_tokens":  inTok,
			"output_tokens": outTok,
		},
	}
}

func TestToClaudeRequest(t *testing.T) {
	t.Parallel()

	if _, err := toClaudeRequest(nil); err == nil {
		t.Fatalf("toClaudeRequest(nil): expected error")
	}

	got, err := toClaudeRequest(&Request{
		Messages: []Message{
			{Role: " ", Content: "a"},
			{Role: "assistant", Content: "b"},
		},
		System:      "sys",
		Model:       " m ",
		MaxTokens:   7,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("toClaudeRequest: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages): got %d want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "user" || got.Messages[0].Content != "a" {
		t.Fatalf("Messages[0]: %#v", got.Messages[0])
	}
	if got.Messages[1].Role != "assistant" {
		t.Fatalf("Messages[1]: %#v", got.Messages[1])
	}
	if got.System != "sys" || got.Model != "m" || got.MaxTokens != 7 || got.Temperature != 0.5 {
		t.Fatalf("fields: %#v", got)
	}
}

func TestFromClaudeResponse(t *testing.T) {
	t.Parallel()

	if got := fromClaudeResponse(nil); got != nil {
		t.Fatalf("fromClaudeResponse(nil): got %#v", got)
	}

	out := fromClaudeResponse(&claude.Response{
		StopReason: "end_turn",
		Usage:      claude.Usage{InputTokens: 1, OutputTokens: 2},
		Content: []claude.ContentBlock{
			{Type: "text", Text: "a"},
			{Type: "thinking", Text: "ignored"},
			{Type: "text", Text: "b"},
		},
	})
	if out == nil {
		t.Fatalf("fromClaudeResponse: nil")
	}
	if out.StopReason != "end_turn" {
		t.Fatalf("StopReason: got %q", out.StopReason)
	}
	if out.Usage.InputTokens != 1 || out.Usage.OutputTokens != 2 {
		t.Fatalf("Usage: %#v", out.Usage)
	}
	if Text(out) != "ab" {
		t.Fatalf("Text: got %q", Text(out))
	}
}

func TestClaudeProvider_Complete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		_ = r.Body.Close()
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(claudeMessageResponse("hello", 1, 2))
	}))
	t.Cleanup(srv.Close)

	p := NewClaudeProvider("k", srv.URL+"/v1", "m")
	resp, err := p.Complete(context.Background(), &Request{
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if Text(resp) != "hello" {
		t.Fatalf("Text: got %q", Text(resp))
	}

	var pnil *ClaudeProvider
	if _, err := pnil.Complete(context.Background(), &Request{}); err == nil {
		t.Fatalf("Complete(nil provider): expected error")
	}
}

func TestClaudeProvider_Generate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(claudeMessageResponse("generated", 1_000_000, 1_000_000))
	}))
	t.Cleanup(srv.Close)

	p := NewClaudeProvider("k", srv.URL+"/v1", "m")
	out, err := p.Generate(context.Background(), &GenerateRequest{
		Prompt:    "make a doc",
		System:    "sys",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Content != "generated" {
		t.Fatalf("content: got %q", out.Content)
	}
	if out.InputTokens != 1_000_000 || out.OutputTokens != 1_000_000 {
		t.Fatalf("tokens: %+v", out)
	}
	if out.CostCents != 1800 {
		t.Fatalf("cost: got %v want 1800", out.CostCents)
	}

	if _, err := p.Generate(context.Background(), nil); err == nil {
		t.Fatalf("Generate(nil req): expected error")
	}
}

func TestClaudeProvider_ErrorClassification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	t.Cleanup(srv.Close)

	p := NewClaudeProvider("k", srv.URL+"/v1", "m")
	_, err := p.Complete(context.Background(), &Request{
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 7,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("503 must classify transient: %v", err)
	}
}
