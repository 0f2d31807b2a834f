// Package api provides the read-only HTTP API for observing a running
// simulation. Handlers read only the status published after each day.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/persistence"
)

// streamBuffer is the number of undelivered day reports kept per stream
// subscriber. Reports beyond it are dropped for that subscriber.
const streamBuffer = 16

// RunInfo identifies the run being served.
type RunInfo struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name"`
	Run  int    `json:"run"`
}

// Server serves the simulation state over HTTP.
type Server struct {
	Port   int
	Index  *persistence.Index // Optional, backs /stats/history
	Logger *slog.Logger

	status atomic.Pointer[engine.Status]
	run    atomic.Pointer[RunInfo]

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool // Set by Shutdown; no new streams after it

	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer creates a server. Nothing is served until Start.
func NewServer(port int, idx *persistence.Index, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Port:   port,
		Index:  idx,
		Logger: logger,
		subs:   make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	streamLimiter := NewRateLimiter(10, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/run", s.handleRun)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgentDetail)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))
	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info("HTTP API starting", "addr", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server and closes every stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// SetRun records which run is being served.
func (s *Server) SetRun(info RunInfo) {
	s.run.Store(&info)
}

// Publish replaces the served status and forwards rep to stream
// subscribers. Call it from the step loop after each day.
func (s *Server) Publish(st *engine.Status, rep *engine.DayReport) {
	s.status.Store(st)
	if rep == nil {
		return
	}

	msg, err := json.Marshal(rep)
	if err != nil {
		s.Logger.Warn("encode day report", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
			s.Logger.Debug("stream subscriber behind, dropping report", "day", rep.Day)
		}
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// current returns the latest status or writes 503 and returns nil.
func (s *Server) current(w http.ResponseWriter) *engine.Status {
	st := s.status.Load()
	if st == nil {
		http.Error(w, "simulation not started", http.StatusServiceUnavailable)
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.current(w)
	if st == nil {
		return
	}
	summary := *st
	summary.Agents = nil
	summary.NewCases, summary.Day4Counts, summary.TotalContacts = nil, nil, nil
	writeJSON(w, map[string]any{
		"name":   "Dewberry Hollow",
		"run":    s.run.Load(),
		"status": summary,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	info := s.run.Load()
	if info == nil {
		http.Error(w, "no run", http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	st := s.current(w)
	if st == nil {
		return
	}

	list := st.Agents
	if h := r.URL.Query().Get("health"); h != "" {
		if _, err := agents.ParseHealth(h); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		list = make([]engine.AgentSummary, 0, len(st.Agents))
		for _, a := range st.Agents {
			if a.Health == h {
				list = append(list, a)
			}
		}
	}
	writeJSON(w, list)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	st := s.current(w)
	if st == nil {
		return
	}
	if id >= uint64(len(st.Agents)) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, st.Agents[id])
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	st := s.current(w)
	if st == nil {
		return
	}
	writeJSON(w, map[string]any{
		"day":            st.Day,
		"new_cases":      st.NewCases,
		"day4_counts":    st.Day4Counts,
		"total_contacts": st.TotalContacts,
	})
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.Index == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	uid := r.URL.Query().Get("run")
	if uid == "" {
		if info := s.run.Load(); info != nil {
			uid = info.UID
		}
	}
	from, to, limit := 0, 1<<31-1, 100

	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.Atoi(f); err == nil && v >= 0 {
			from = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.Atoi(t); err == nil && v >= 0 {
			to = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	rows, err := s.Index.LoadStatsHistory(uid, from, to, limit)
	if err != nil {
		s.Logger.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.StatsRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StatsRow{}
	}
	writeJSON(w, rows)
}

// handleStream upgrades to a websocket and pushes each day's report as a
// JSON text message until the client leaves or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, ok := s.subscribe()
	if !ok {
		// Shutdown ran while the connection was upgrading.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer s.unsubscribe(ch)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// subscribe registers a stream channel unless the server is shutting down.
func (s *Server) subscribe() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, streamBuffer)
	s.subs[ch] = struct{}{}
	return ch, true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// subscribers reports the number of open streams.
func (s *Server) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
