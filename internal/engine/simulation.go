// Simulation state, seeding, and invariant checks.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/oracle"
	"github.com/talgya/dewberry/internal/world"
)

// StartDate is the calendar date of day 0.
var StartDate = time.Date(2015, time.March, 3, 0, 0, 0, 0, time.UTC)

// DefaultConcurrency bounds simultaneous oracle calls in the decision phase.
const DefaultConcurrency = 8

// Params are the epidemic parameters of a run.
type Params struct {
	ContactRate      int     // Maximum daily contacts per agent
	InfectionRate    float64 // Per-contact transmission probability
	HealingThreshold int     // Infected days before recovery
}

// Simulation holds the complete world state.
type Simulation struct {
	Agents []*agents.Agent // Indexed by AgentID
	Grid   world.Grid

	Day  int       // Days completed so far
	Date time.Time // Calendar date of the next day to simulate

	ContactRate      int
	InfectionRate    float64
	HealingThreshold int
	InitialInfected  int

	// OnGrid lists agents outside today. Order is state: the pairing
	// shuffle permutes it in place.
	OnGrid []agents.AgentID

	InfectedCount int
	DailyNewCases int

	// Histories, one entry per simulated day.
	NewCases      []int
	Day4Counts    []int
	TotalContacts []int
	Census        []Census // Taken after each day's health update

	// ZeroStreak counts consecutive days ending with no infected agents.
	ZeroStreak int

	Oracle      oracle.Oracle
	Concurrency int
	Logger      *slog.Logger

	src *rand.PCG
	rng *rand.Rand

	// onPaired, when set, runs right after the pairing phase.
	onPaired func()
}

// NewSimulation creates a Simulation from a spawned population. Agents must
// be ordered by ID starting at 0. ContactRate is clamped to population-1.
func NewSimulation(pop []*agents.Agent, grid world.Grid, p Params, seed uint64) (*Simulation, error) {
	if len(pop) == 0 {
		return nil, errors.New("empty population")
	}
	if grid.Cells() != len(pop) {
		return nil, fmt.Errorf("grid %v does not fit population %d", grid, len(pop))
	}
	for i, a := range pop {
		if a.ID != agents.AgentID(i) {
			return nil, fmt.Errorf("agent at index %d has id %d", i, a.ID)
		}
	}
	if p.HealingThreshold <= 0 {
		p.HealingThreshold = agents.DefaultHealingThreshold
	}

	s := &Simulation{
		Agents:           pop,
		Grid:             grid,
		Date:             StartDate,
		ContactRate:      ClampContactRate(p.ContactRate, len(pop)),
		InfectionRate:    p.InfectionRate,
		HealingThreshold: p.HealingThreshold,
		Concurrency:      DefaultConcurrency,
		Logger:           slog.Default(),
	}
	s.SeedRand(seed)

	for _, a := range pop {
		if a.Location == agents.Grid {
			s.OnGrid = append(s.OnGrid, a.ID)
		}
		if a.Health == agents.Infected {
			s.InfectedCount++
		}
	}
	s.InitialInfected = s.InfectedCount
	return s, nil
}

// ClampContactRate limits rate to [0, population-1].
func ClampContactRate(rate, population int) int {
	if rate > population-1 {
		rate = population - 1
	}
	if rate < 0 {
		rate = 0
	}
	return rate
}

// Population returns the fixed number of agents.
func (s *Simulation) Population() int {
	return len(s.Agents)
}

// Agent returns the agent with the given id, or nil.
func (s *Simulation) Agent(id agents.AgentID) *agents.Agent {
	if int(id) >= len(s.Agents) {
		return nil
	}
	return s.Agents[id]
}

// SeedRand resets the random source.
func (s *Simulation) SeedRand(seed uint64) {
	s.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	s.rng = rand.New(s.src)
}

// RandState returns the serialized random source state.
func (s *Simulation) RandState() ([]byte, error) {
	return s.src.MarshalBinary()
}

// SetRandState restores a random source state produced by RandState.
func (s *Simulation) SetRandState(state []byte) error {
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(state); err != nil {
		return fmt.Errorf("restore rng: %w", err)
	}
	s.src = src
	s.rng = rand.New(src)
	return nil
}

// FeedbackPercent is the share of the population that was on infection
// day 4 at the end of yesterday, in percent. It is 0 on the first day.
func (s *Simulation) FeedbackPercent() float64 {
	if s.Day == 0 || len(s.Day4Counts) < s.Day || s.Population() == 0 {
		return 0
	}
	return float64(s.Day4Counts[s.Day-1]) * 100 / float64(s.Population())
}

// CheckInvariants verifies the conservation and membership invariants.
func (s *Simulation) CheckInvariants() error {
	c := TakeCensus(s)
	if c.Total() != s.Population() {
		return fmt.Errorf("census total %d != population %d", c.Total(), s.Population())
	}
	if c.Grid != len(s.OnGrid) {
		return fmt.Errorf("%d agents located on grid but %d listed", c.Grid, len(s.OnGrid))
	}
	for _, a := range s.Agents {
		if (a.DayInfected != nil) != (a.Health == agents.Infected) {
			return fmt.Errorf("agent %d: day_infected defined=%v with health %v", a.ID, a.DayInfected != nil, a.Health)
		}
	}
	for _, id := range s.OnGrid {
		a := s.Agent(id)
		if a == nil || a.Location != agents.Grid {
			return fmt.Errorf("agent %d listed on grid but not located there", id)
		}
	}
	return nil
}
