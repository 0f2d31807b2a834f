package agents

import (
	"strings"
	"testing"

	"github.com/talgya/dewberry/internal/world"
)

func TestSpawnPopulation(t *testing.T) {
	grid, err := world.NewGrid(100)
	if err != nil {
		t.Fatal(err)
	}
	pop := NewSpawner(42).SpawnPopulation(98, 2, grid)
	if len(pop) != 100 {
		t.Fatalf("len = %d, want 100", len(pop))
	}

	for i, a := range pop {
		if a.ID != AgentID(i) {
			t.Errorf("agent %d has ID %d", i, a.ID)
		}
		if a.Location != Grid {
			t.Errorf("agent %d starts at %v, want grid", i, a.Location)
		}
		if a.Age < 18 || a.Age > 64 {
			t.Errorf("agent %d age %d out of range", i, a.Age)
		}
		if n := len(strings.Split(a.Traits, ", ")); n != 5 {
			t.Errorf("agent %d has %d traits, want 5", i, n)
		}
		if i < 98 {
			if a.Health != Susceptible || a.DayInfected != nil {
				t.Errorf("agent %d: %v, want Susceptible", i, a.Health)
			}
		} else {
			if a.Health != Infected || a.DaysInfected() != 1 {
				t.Errorf("agent %d: %v day %d, want Infected day 1", i, a.Health, a.DaysInfected())
			}
		}
	}
}

func TestSpawnerDeterministic(t *testing.T) {
	grid, _ := world.NewGrid(10)
	a := NewSpawner(7).SpawnPopulation(9, 1, grid)
	b := NewSpawner(7).SpawnPopulation(9, 1, grid)
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Age != b[i].Age || a[i].Traits != b[i].Traits {
			t.Fatalf("agent %d differs between identical seeds", i)
		}
	}
}
