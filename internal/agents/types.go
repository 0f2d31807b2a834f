// Package agents provides the citizen data model, the health state machine,
// and the pairwise infection rule.
package agents

import (
	"fmt"

	"github.com/talgya/dewberry/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Health is an agent's disease state.
type Health uint8

const (
	Susceptible      Health = iota
	PendingInfection        // Exposed today, becomes Infected at the next health update
	Infected
	Recovered // Terminal, no reinfection
)

// NumHealthStates is the number of Health values.
const NumHealthStates = 4

// String returns the display name of the health state.
func (h Health) String() string {
	switch h {
	case Susceptible:
		return "Susceptible"
	case PendingInfection:
		return "PendingInfection"
	case Infected:
		return "Infected"
	case Recovered:
		return "Recovered"
	}
	return fmt.Sprintf("Health(%d)", uint8(h))
}

// ParseHealth is the inverse of Health.String.
func ParseHealth(s string) (Health, error) {
	for h := Susceptible; h <= Recovered; h++ {
		if h.String() == s {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown health state %q", s)
}

// Location is where an agent spends the day.
type Location uint8

const (
	Home Location = iota
	Grid
)

// String returns the display name of the location.
func (l Location) String() string {
	switch l {
	case Home:
		return "home"
	case Grid:
		return "grid"
	}
	return fmt.Sprintf("Location(%d)", uint8(l))
}

// ParseLocation is the inverse of Location.String.
func ParseLocation(s string) (Location, error) {
	switch s {
	case "home":
		return Home, nil
	case "grid":
		return Grid, nil
	}
	return 0, fmt.Errorf("unknown location %q", s)
}

// Agent is a citizen of the simulated town.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`

	// Demographics (opaque to the engine, shown to the decision oracle).
	Age    uint16 `json:"age"`
	Traits string `json:"traits"`

	Location Location    `json:"location"`
	Position world.Coord `json:"position"`

	Health Health `json:"health"`
	// DayInfected counts days spent Infected. Nil unless Health == Infected.
	DayInfected *int `json:"day_infected,omitempty"`

	// Interactions holds today's contact partners. Cleared after resolution.
	Interactions []AgentID `json:"interactions,omitempty"`

	// Memories holds one entry per simulated day.
	Memories []Memory `json:"memories,omitempty"`
}

// DaysInfected returns the infection day counter, or 0 when undefined.
func (a *Agent) DaysInfected() int {
	if a.DayInfected == nil {
		return 0
	}
	return *a.DayInfected
}

// HasInteraction reports whether id is already one of today's partners.
func (a *Agent) HasInteraction(id AgentID) bool {
	for _, p := range a.Interactions {
		if p == id {
			return true
		}
	}
	return false
}
