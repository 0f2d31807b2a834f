// Package llm provides the language-model clients that answer each agent's
// daily stay-home question.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/dewberry/internal/logging"
	"github.com/talgya/dewberry/internal/oracle"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	anthropicModel   = "claude-haiku-4-5-20251001"

	maxTokens = 300
)

// Config configures a provider client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // Overrides the provider endpoint
	Timeout time.Duration
	// RatePerMinute caps request starts. Zero means unlimited.
	RatePerMinute int
	Logger        *slog.Logger
}

func (c Config) withDefaults(model, url string) Config {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = url
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// newLimiter returns a limiter admitting perMinute calls per minute with a
// burst of one, or nil for no limit.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// AnthropicClient answers oracle questions with the Anthropic Messages API.
type AnthropicClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAnthropicClient creates a client. Returns nil if the API key is empty.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	if cfg.APIKey == "" {
		return nil
	}
	cfg = cfg.withDefaults(anthropicModel, anthropicURL)
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RatePerMinute),
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete asks the model whether the agent in c stays home and returns the
// raw answer text. It implements oracle.Completer.
func (c *AnthropicClient) Complete(ctx context.Context, oc oracle.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("LLM client not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	prompt := BuildPrompt(oc)
	req := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: 0,
		System:      prompt,
		Messages: []Message{
			{Role: "user", Content: "Answer in the format described."},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	respBody, err := do(c.httpClient, httpReq)
	if err != nil {
		return "", err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}
	text := apiResp.Content[0].Text

	c.cfg.Logger.Debug("anthropic call",
		"agent", oc.Name,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	c.cfg.Logger.Log(ctx, logging.LevelTrace, "oracle exchange", "agent", oc.Name, "prompt", prompt, "response", text)
	return text, nil
}

// do sends req and returns the body of a 200 response.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
