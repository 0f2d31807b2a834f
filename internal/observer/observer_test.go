package observer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/api"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/oracle"
	"github.com/talgya/dewberry/internal/world"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSim(t *testing.T) *engine.Simulation {
	t.Helper()
	grid, err := world.NewGrid(12)
	if err != nil {
		t.Fatal(err)
	}
	pop := agents.NewSpawner(8).SpawnPopulation(10, 2, grid)
	sim, err := engine.NewSimulation(pop, grid, engine.Params{ContactRate: 2, InfectionRate: 0.3}, 8)
	if err != nil {
		t.Fatal(err)
	}
	sim.Oracle = oracle.Always(false)
	sim.Logger = quiet
	return sim
}

func TestObserve(t *testing.T) {
	sim := newSim(t)
	if _, err := sim.Step(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := api.NewServer(0, nil, quiet)
	s.SetRun(api.RunInfo{Name: "GABM", Run: 3})
	s.Publish(sim.Status(), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	snap, err := NewObserver(ts.URL+"/").Observe(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Run == nil || snap.Run.Run != 3 {
		t.Errorf("run = %+v", snap.Run)
	}
	if snap.Status.Day != 1 || snap.Status.Population != 12 {
		t.Errorf("status = %+v", snap.Status)
	}
	if len(snap.History) != 0 {
		t.Errorf("history without index = %d rows", len(snap.History))
	}
}

func TestObserveNotStarted(t *testing.T) {
	ts := httptest.NewServer(api.NewServer(0, nil, quiet).Handler())
	defer ts.Close()

	_, err := NewObserver(ts.URL).Observe(context.Background(), 0)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want 503 status error", err)
	}
}

func TestFollow(t *testing.T) {
	sim := newSim(t)
	s := api.NewServer(0, nil, quiet)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan engine.DayReport, 64)
	done := make(chan error, 1)
	go func() {
		done <- NewObserver(ts.URL).Follow(ctx, func(rep engine.DayReport) { got <- rep })
	}()

	// Reports published before the stream attaches are not replayed, so keep
	// stepping until three arrive.
	last := -1
	for received := 0; received < 3; {
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for reports")
		}
		rep, err := sim.Step(ctx)
		if err != nil {
			t.Fatal(err)
		}
		s.Publish(sim.Status(), &rep)
		select {
		case r := <-got:
			if r.Day <= last {
				t.Errorf("report day %d after %d", r.Day, last)
			}
			last = r.Day
			received++
		case <-time.After(50 * time.Millisecond):
		}
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Follow = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Follow did not return after shutdown")
	}
}
