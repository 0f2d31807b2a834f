package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talgya/dewberry/internal/oracle"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testContext() oracle.Context {
	return oracle.Context{
		Name:            "Ann Lee",
		Age:             34,
		Traits:          "Warmth, Order, Boldness, Calm, Curiosity",
		HealthNarrative: "Ann Lee has a fever and a cough.",
		FeedbackPercent: 4,
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(testContext())
	for _, want := range []string{
		"You are Ann Lee. You are 34 years old.",
		"Warmth, Order, Boldness, Calm, Curiosity",
		"Ann Lee has a fever and a cough.",
		"Dewberry Hollow",
		"4.0% of Dewberry Hollow's population",
		"Reasoning:\nResponse:",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestNewClientsRequireKey(t *testing.T) {
	if NewAnthropicClient(Config{}) != nil {
		t.Error("anthropic client created without key")
	}
	if NewOpenAIClient(Config{}) != nil {
		t.Error("openai client created without key")
	}
	var c *AnthropicClient
	if _, err := c.Complete(context.Background(), testContext()); err == nil {
		t.Error("nil client completed")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("version header = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"Reasoning: Ann Lee is sick.\nResponse: Yes"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "test-key", BaseURL: srv.URL, Logger: quiet})
	text, err := c.Complete(context.Background(), testContext())
	if err != nil {
		t.Fatal(err)
	}
	if text != "Reasoning: Ann Lee is sick.\nResponse: Yes" {
		t.Errorf("text = %q", text)
	}
	if got.Model != anthropicModel || !strings.Contains(got.System, "Ann Lee") || len(got.Messages) != 1 {
		t.Errorf("request = %+v", got)
	}

	// The answer parses into a stay-home decision.
	d := oracle.NewAdapter(c, 0, quiet).Decide(context.Background(), testContext())
	if !d.StayHome || d.Err != nil {
		t.Errorf("decision = %+v", d)
	}
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL, Logger: quiet})
	_, err := c.Complete(context.Background(), testContext())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want API error 503", err)
	}
}

func TestAnthropicEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[]}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL, Logger: quiet})
	if _, err := c.Complete(context.Background(), testContext()); err == nil {
		t.Error("empty content accepted")
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"Reasoning: Ann Lee needs money.\nResponse: No."}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test", Logger: quiet})
	text, err := c.Complete(context.Background(), testContext())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, "Reasoning: Ann Lee needs money.") {
		t.Errorf("text = %q", text)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 1 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[],"error":{"message":"quota exceeded","type":"billing"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "sk", BaseURL: srv.URL, Logger: quiet})
	_, err := c.Complete(context.Background(), testContext())
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `{"content":[{"type":"text","text":"Reasoning: x\nResponse: No"}]}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL, RatePerMinute: 1, Logger: quiet})
	if _, err := c.Complete(context.Background(), testContext()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Complete(ctx, testContext()); err == nil {
		t.Error("second call within the minute should wait and fail on the cancelled context")
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}
