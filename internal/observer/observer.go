// Package observer reads a running simulation through its HTTP API. It backs
// the watch command.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/dewberry/internal/api"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/persistence"
)

// Snapshot holds everything collected in one observation.
type Snapshot struct {
	Run     *api.RunInfo           `json:"run"`
	Status  engine.Status          `json:"status"`
	History []persistence.StatsRow `json:"history,omitempty"`
}

// statusResponse mirrors GET /api/v1/status.
type statusResponse struct {
	Name   string        `json:"name"`
	Run    *api.RunInfo  `json:"run"`
	Status engine.Status `json:"status"`
}

// Observer fetches simulation state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Dialer: websocket.DefaultDialer,
	}
}

// Observe fetches the current status and, when the server has a run index,
// the last days of statistics.
func (o *Observer) Observe(ctx context.Context, historyLimit int) (*Snapshot, error) {
	var st statusResponse
	if err := o.fetchJSON(ctx, "/api/v1/status", &st); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	snap := &Snapshot{Run: st.Run, Status: st.Status}

	if historyLimit > 0 {
		path := fmt.Sprintf("/api/v1/stats/history?limit=%d", historyLimit)
		err := o.fetchJSON(ctx, path, &snap.History)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch stats history: %w", err)
		}
	}
	return snap, nil
}

// Follow streams day reports to fn until ctx ends or the server closes the
// stream. A normal close returns nil.
func (o *Observer) Follow(ctx context.Context, fn func(engine.DayReport)) error {
	url := "ws" + strings.TrimPrefix(o.BaseURL, "http") + "/api/v1/stream"
	conn, _, err := o.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var rep engine.DayReport
		if err := json.Unmarshal(msg, &rep); err != nil {
			return fmt.Errorf("decode day report: %w", err)
		}
		fn(rep)
	}
}

// StatusError is a non-200 API response.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned %d: %s", e.Path, e.Code, e.Body)
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
