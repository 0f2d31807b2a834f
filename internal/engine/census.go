package engine

import "github.com/talgya/dewberry/internal/agents"

// Census counts agents per health state and per location.
type Census struct {
	Susceptible int `json:"susceptible"`
	Pending     int `json:"pending"`
	Infected    int `json:"infected"`
	Recovered   int `json:"recovered"`
	Home        int `json:"home"`
	Grid        int `json:"grid"`
}

// Total returns the number of agents counted across health states.
func (c Census) Total() int {
	return c.Susceptible + c.Pending + c.Infected + c.Recovered
}

// TakeCensus aggregates the current world state.
func TakeCensus(s *Simulation) Census {
	var c Census
	for _, a := range s.Agents {
		switch a.Health {
		case agents.Susceptible:
			c.Susceptible++
		case agents.PendingInfection:
			c.Pending++
		case agents.Infected:
			c.Infected++
		case agents.Recovered:
			c.Recovered++
		}
		switch a.Location {
		case agents.Home:
			c.Home++
		case agents.Grid:
			c.Grid++
		}
	}
	return c
}

// countDay4 counts agents on their fourth infected day.
func countDay4(s *Simulation) int {
	n := 0
	for _, a := range s.Agents {
		if a.DayInfected != nil && *a.DayInfected == 4 {
			n++
		}
	}
	return n
}
