// Health state machine: daily disease progression for a single agent.
package agents

import "fmt"

// DefaultHealingThreshold is the number of infected days after which an agent recovers.
const DefaultHealingThreshold = 6

// HealthChange reports the counter-relevant transitions of one health update.
type HealthChange struct {
	NewCase   bool // PendingInfection → Infected
	Recovered bool // Infected → Recovered
}

// AdvanceHealth applies one daily health update to a.
//
// A pending infection becomes Infected with DayInfected reset to 0 and is then
// aged like any other infected agent in the same tick, so a fresh case ends
// the update at day 1. An infected agent whose counter exceeds threshold
// recovers and its counter is cleared.
func AdvanceHealth(a *Agent, threshold int) HealthChange {
	var ch HealthChange

	switch a.Health {
	case Susceptible, Recovered:
		return ch
	case PendingInfection:
		a.Health = Infected
		zero := 0
		a.DayInfected = &zero
		ch.NewCase = true
	case Infected:
		if a.DayInfected == nil {
			zero := 0
			a.DayInfected = &zero
		}
	default:
		panic(fmt.Sprintf("agents: unhandled health state %d", a.Health))
	}

	*a.DayInfected++

	if *a.DayInfected > threshold {
		a.DayInfected = nil
		a.Health = Recovered
		ch.Recovered = true
	}
	return ch
}

// HealthNarrative describes how the agent feels today, from its infection day.
func HealthNarrative(a *Agent) string {
	switch a.Health {
	case Susceptible, Recovered, PendingInfection:
		return a.Name + " feels normal."
	case Infected:
	default:
		panic(fmt.Sprintf("agents: unhandled health state %d", a.Health))
	}

	switch d := a.DaysInfected(); {
	case d == 3, d == 6:
		return a.Name + " has a light cough."
	case d == 4, d == 5:
		return a.Name + " has a fever and a cough."
	default:
		return a.Name + " feels normal."
	}
}
