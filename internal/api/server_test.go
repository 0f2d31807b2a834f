package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/oracle"
	"github.com/talgya/dewberry/internal/persistence"
	"github.com/talgya/dewberry/internal/world"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func steppedSim(t *testing.T, days int) (*engine.Simulation, engine.DayReport) {
	t.Helper()
	grid, err := world.NewGrid(20)
	if err != nil {
		t.Fatal(err)
	}
	pop := agents.NewSpawner(4).SpawnPopulation(18, 2, grid)
	sim, err := engine.NewSimulation(pop, grid, engine.Params{ContactRate: 3, InfectionRate: 0.2}, 4)
	if err != nil {
		t.Fatal(err)
	}
	sim.Oracle = oracle.Always(false)
	sim.Logger = quiet

	var rep engine.DayReport
	for i := 0; i < days; i++ {
		if rep, err = sim.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return sim, rep
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestEndpointsBeforeFirstDay(t *testing.T) {
	s := NewServer(0, nil, quiet)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if code := getJSON(t, ts.URL+"/api/v1/status", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/stats/history", nil); code != http.StatusServiceUnavailable {
		t.Errorf("stats history without index = %d, want 503", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/run", nil); code != http.StatusNotFound {
		t.Errorf("run code = %d, want 404", code)
	}
}

func TestStatusAndAgents(t *testing.T) {
	sim, rep := steppedSim(t, 3)
	s := NewServer(0, nil, quiet)
	s.SetRun(RunInfo{Name: "GABM", Run: 1})
	s.Publish(sim.Status(), &rep)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var status struct {
		Name   string        `json:"name"`
		Run    RunInfo       `json:"run"`
		Status engine.Status `json:"status"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Status.Day != 3 || status.Status.Population != 20 || status.Run.Run != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.Status.Census.Total() != 20 {
		t.Errorf("census total = %d", status.Status.Census.Total())
	}
	if len(status.Status.Agents) != 0 {
		t.Error("status should not embed the agent list")
	}

	var list []engine.AgentSummary
	getJSON(t, ts.URL+"/api/v1/agents", &list)
	if len(list) != 20 {
		t.Errorf("agents = %d, want 20", len(list))
	}

	var infected []engine.AgentSummary
	getJSON(t, ts.URL+"/api/v1/agents?health=Infected", &infected)
	for _, a := range infected {
		if a.Health != "Infected" || a.DayInfected == nil {
			t.Errorf("filtered agent = %+v", a)
		}
	}
	if code := getJSON(t, ts.URL+"/api/v1/agents?health=Zombie", nil); code != http.StatusBadRequest {
		t.Errorf("bad filter code = %d, want 400", code)
	}

	var one engine.AgentSummary
	if code := getJSON(t, ts.URL+"/api/v1/agent/7", &one); code != http.StatusOK {
		t.Fatalf("agent code = %d", code)
	}
	if one.ID != 7 || one.Name != sim.Agents[7].Name || len(one.Memories) != 3 || one.Memories[0].Day != 2 || one.Memories[2].Day != 0 {
		t.Errorf("agent 7 = %+v", one)
	}
	if code := getJSON(t, ts.URL+"/api/v1/agent/99", nil); code != http.StatusNotFound {
		t.Errorf("missing agent code = %d, want 404", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/agent/abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad id code = %d, want 400", code)
	}

	var hist struct {
		Day      int   `json:"day"`
		NewCases []int `json:"new_cases"`
	}
	getJSON(t, ts.URL+"/api/v1/history", &hist)
	if hist.Day != 3 || len(hist.NewCases) != 3 {
		t.Errorf("history = %+v", hist)
	}
}

func TestStatsHistoryFromIndex(t *testing.T) {
	idx, err := persistence.OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	uid, err := idx.StartRun(persistence.RunRecord{Name: "GABM", Run: 1})
	if err != nil {
		t.Fatal(err)
	}
	for day := 0; day < 5; day++ {
		if err := idx.RecordDay(uid, engine.DayReport{Day: day, Date: engine.StartDate.AddDate(0, 0, day), NewCases: day}); err != nil {
			t.Fatal(err)
		}
	}

	s := NewServer(0, idx, quiet)
	s.SetRun(RunInfo{UID: uid, Name: "GABM", Run: 1})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var rows []persistence.StatsRow
	getJSON(t, ts.URL+"/api/v1/stats/history?from=1&to=3", &rows)
	if len(rows) != 3 || rows[0].Day != 1 || rows[2].NewCases != 3 {
		t.Errorf("rows = %+v", rows)
	}

	getJSON(t, ts.URL+"/api/v1/stats/history?run=unknown", &rows)
	if len(rows) != 0 {
		t.Errorf("unknown run rows = %d, want 0", len(rows))
	}
}

func TestStreamDeliversDayReports(t *testing.T) {
	sim, rep := steppedSim(t, 2)
	s := NewServer(0, nil, quiet)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Publish(sim.Status(), &rep)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got engine.DayReport
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatal(err)
	}
	if got.Day != rep.Day || got.After != rep.After {
		t.Errorf("streamed report = %+v, want day %d", got, rep.Day)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream still open after shutdown")
	}
}

func TestStreamRefusedAfterShutdown(t *testing.T) {
	s := NewServer(0, nil, quiet)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("stream accepted after shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown: %v, response %+v", err, resp)
	}

	// A stream that finished upgrading after the sweep is not registered.
	if _, ok := s.subscribe(); ok {
		t.Error("subscribe succeeded after shutdown")
	}
	if n := s.subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("first two requests refused")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("third request allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other client refused")
	}
	if ra := rl.RetryAfter("1.2.3.4"); ra < 1 || ra > 61 {
		t.Errorf("retry after = %d", ra)
	}

	clock = clock.Add(time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Error("request refused after window reset")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second request code = %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if _, ok := rl.buckets["9.9.9.9"]; !ok {
		t.Error("limiter keyed on wrong address")
	}
}
