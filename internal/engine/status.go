package engine

import (
	"time"

	"github.com/talgya/dewberry/internal/agents"
)

// statusMemories is how many of each agent's latest days a Status carries.
const statusMemories = 3

// Status is an immutable view of the world published after each day for
// readers outside the step loop.
type Status struct {
	Day              int            `json:"day"`
	Date             time.Time      `json:"date"`
	Population       int            `json:"population"`
	GridHeight       int            `json:"grid_height"`
	GridWidth        int            `json:"grid_width"`
	ContactRate      int            `json:"contact_rate"`
	InfectionRate    float64        `json:"infection_rate"`
	HealingThreshold int            `json:"healing_threshold"`
	InfectedCount    int            `json:"infected_count"`
	Census           Census         `json:"census"`
	NewCases         []int          `json:"new_cases"`
	Day4Counts       []int          `json:"day4_counts"`
	TotalContacts    []int          `json:"total_contacts"`
	Agents           []AgentSummary `json:"agents"`
}

// AgentSummary is the public state of one agent.
type AgentSummary struct {
	ID          agents.AgentID  `json:"id"`
	Name        string          `json:"name"`
	Age         uint16          `json:"age"`
	Health      string          `json:"health"`
	DayInfected *int            `json:"day_infected,omitempty"`
	Location    string          `json:"location"`
	Memories    []agents.Memory `json:"recent_memories,omitempty"` // Most recent first
}

// Status copies the current state. It must be called from the step loop.
func (s *Simulation) Status() *Status {
	st := &Status{
		Day:              s.Day,
		Date:             s.Date,
		Population:       s.Population(),
		GridHeight:       s.Grid.Height,
		GridWidth:        s.Grid.Width,
		ContactRate:      s.ContactRate,
		InfectionRate:    s.InfectionRate,
		HealingThreshold: s.HealingThreshold,
		InfectedCount:    s.InfectedCount,
		Census:           TakeCensus(s),
		NewCases:         append([]int(nil), s.NewCases...),
		Day4Counts:       append([]int(nil), s.Day4Counts...),
		TotalContacts:    append([]int(nil), s.TotalContacts...),
		Agents:           make([]AgentSummary, 0, len(s.Agents)),
	}
	for _, a := range s.Agents {
		sum := AgentSummary{
			ID:       a.ID,
			Name:     a.Name,
			Age:      a.Age,
			Health:   a.Health.String(),
			Location: a.Location.String(),
		}
		if a.DayInfected != nil {
			d := *a.DayInfected
			sum.DayInfected = &d
		}
		sum.Memories = agents.RecentMemories(a, statusMemories)
		st.Agents = append(st.Agents, sum)
	}
	return st
}
