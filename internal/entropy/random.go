// Package entropy picks run seeds. A random.org key yields seeds from
// atmospheric noise; otherwise crypto/rand is used.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const randomOrgURL = "https://api.random.org/json-rpc/4/invoke"

// Client fetches seeds from random.org.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: randomOrgURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Seed returns a non-zero 64-bit seed. It asks random.org when the client
// is enabled and falls back to crypto/rand on any failure.
func (c *Client) Seed(ctx context.Context) uint64 {
	if c.Enabled() {
		seed, err := c.fetch(ctx)
		if err == nil && seed != 0 {
			return seed
		}
		c.logger.Warn("random.org seed unavailable, using crypto/rand", "error", err)
	}
	return CryptoSeed()
}

// fetch builds a seed from four 16-bit integers.
func (c *Client) fetch(ctx context.Context) (uint64, error) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      4,
			"min":    0,
			"max":    65535,
		},
		"id": 1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("random.org request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("random.org read: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []uint64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("random.org parse: %w", err)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("random.org API error: %s", result.Error.Message)
	}
	data := result.Result.Random.Data
	if len(data) != 4 {
		return 0, fmt.Errorf("random.org returned %d integers, want 4", len(data))
	}

	var seed uint64
	for _, v := range data {
		seed = seed<<16 | v&0xffff
	}
	c.logger.Debug("seed drawn from random.org", "seed", seed)
	return seed, nil
}

// CryptoSeed returns a non-zero seed from crypto/rand.
func CryptoSeed() uint64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand does not fail on supported platforms.
			return uint64(time.Now().UnixNano()) | 1
		}
		if n := binary.LittleEndian.Uint64(buf[:]); n != 0 {
			return n
		}
	}
}

// Resolve returns seed unchanged when it is set, and a fresh seed otherwise.
func Resolve(ctx context.Context, seed uint64, c *Client) uint64 {
	if seed != 0 {
		return seed
	}
	return c.Seed(ctx)
}
