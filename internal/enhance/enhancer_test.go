package enhance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/murmurlabs/murmurd/internal/config"
)

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(config.EnhanceConfig{Mode: "openai"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestRenderPrompt(t *testing.T) {
	got := RenderPrompt("Fix this: {{text}}", "hello")
	if got != "Fix this: hello" {
		t.Fatalf("unexpected prompt %q", got)
	}
	// Missing placeholder must still carry the text.
	got = RenderPrompt("Fix this:", "hello")
	if got != "Fix this:\n\nhello" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestMockEnhancer(t *testing.T) {
	e := NewMockEnhancer()
	got, err := e.Enhance(context.Background(), Request{Text: "  hello there  "})
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if got != "Hello there" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestOllamaEnhancer(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotPrompt = req.Prompt
		if req.Stream {
			t.Errorf("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(map[string]any{"response": " Hello, world. ", "done": true})
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEnhancer(srv.URL)
	got, err := e.Enhance(context.Background(), Request{
		Text:   "hello world",
		Model:  "llama3.2:latest",
		Prompt: "Punctuate: {{text}}",
	})
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if got != "Hello, world." {
		t.Fatalf("unexpected output %q", got)
	}
	if gotPrompt != "Punctuate: hello world" {
		t.Fatalf("unexpected prompt %q", gotPrompt)
	}
}

func TestOllamaEnhancerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEnhancer(srv.URL)
	if _, err := e.Enhance(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatalf("expected error for server failure")
	}
}

func TestOllamaEnhancerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := NewOllamaEnhancer(srv.URL)
	if _, err := e.Enhance(ctx, Request{Text: "x"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}
