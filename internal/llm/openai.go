package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/talgya/dewberry/internal/logging"
	"github.com/talgya/dewberry/internal/oracle"
)

const (
	openAIURL   = "https://api.openai.com/v1/chat/completions"
	openAIModel = "gpt-4o-mini"
)

// OpenAIClient answers oracle questions with the OpenAI chat completions API
// or any compatible endpoint.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIClient creates a client. Returns nil if the API key is empty.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.APIKey == "" {
		return nil
	}
	cfg = cfg.withDefaults(openAIModel, openAIURL)
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RatePerMinute),
	}
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete implements oracle.Completer.
func (c *OpenAIClient) Complete(ctx context.Context, oc oracle.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("LLM client not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	prompt := BuildPrompt(oc)
	body, err := json.Marshal(openAIChatRequest{
		Model:       c.cfg.Model,
		Temperature: 0,
		Messages:    []Message{{Role: "system", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	respBody, err := do(c.httpClient, req)
	if err != nil {
		return "", err
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	text := chatResp.Choices[0].Message.Content

	c.cfg.Logger.Log(ctx, logging.LevelTrace, "oracle exchange", "agent", oc.Name, "prompt", prompt, "response", text)
	return text, nil
}
