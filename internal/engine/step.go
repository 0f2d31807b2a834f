package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/oracle"
)

// Warning is a non-fatal problem observed during a day, such as an oracle
// fallback.
type Warning struct {
	AgentID agents.AgentID `json:"agent_id"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
}

// DayReport summarises one simulated day.
type DayReport struct {
	Day           int       `json:"day"`
	Date          time.Time `json:"date"`
	Before        Census    `json:"before"`
	After         Census    `json:"after"`
	ContactCap    int       `json:"contact_cap"`
	TotalContacts int       `json:"total_contacts"`
	Transmissions int       `json:"transmissions"`
	NewCases      int       `json:"new_cases"`
	Recoveries    int       `json:"recoveries"`
	Day4Count     int       `json:"day4_count"`
	InfectedCount int       `json:"infected_count"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

// Step runs one full day: decisions, pairing, contact accounting,
// interaction resolution, health update, statistics, and calendar advance.
// Each phase completes for every agent before the next begins.
//
// If ctx is cancelled while decisions are being gathered, Step returns the
// context error and the simulation is left exactly as it was.
func (s *Simulation) Step(ctx context.Context) (DayReport, error) {
	if s.Oracle == nil {
		return DayReport{}, errors.New("no decision oracle configured")
	}
	rngState, err := s.RandState()
	if err != nil {
		return DayReport{}, err
	}

	rep := DayReport{Day: s.Day, Date: s.Date, Before: TakeCensus(s)}

	// 1. Decisions.
	order, decisions := s.gatherDecisions(ctx)
	if err := ctx.Err(); err != nil {
		if rerr := s.SetRandState(rngState); rerr != nil {
			return DayReport{}, fmt.Errorf("%w (and %v)", err, rerr)
		}
		return DayReport{}, err
	}
	rep.Warnings = s.applyDecisions(order, decisions)

	// 2. Pairing.
	rep.ContactCap = s.pairContacts()
	if s.onPaired != nil {
		s.onPaired()
	}

	// 3. Contact accounting.
	rep.TotalContacts = s.countContacts()
	s.TotalContacts = append(s.TotalContacts, rep.TotalContacts)

	// 4. Interactions.
	rep.Transmissions = s.resolveInteractions()

	// 5. Health.
	for _, a := range s.Agents {
		ch := agents.AdvanceHealth(a, s.HealingThreshold)
		if ch.NewCase {
			s.DailyNewCases++
			s.InfectedCount++
		}
		if ch.Recovered {
			s.InfectedCount--
			rep.Recoveries++
		}
	}

	// 6. Statistics.
	rep.After = TakeCensus(s)
	rep.NewCases = s.DailyNewCases
	rep.Day4Count = countDay4(s)
	rep.InfectedCount = s.InfectedCount
	s.NewCases = append(s.NewCases, s.DailyNewCases)
	s.DailyNewCases = 0
	s.Day4Counts = append(s.Day4Counts, rep.Day4Count)
	s.Census = append(s.Census, rep.After)

	// 7. Calendar.
	s.Day++
	s.Date = s.Date.AddDate(0, 0, 1)
	if s.InfectedCount == 0 {
		s.ZeroStreak++
	} else {
		s.ZeroStreak = 0
	}

	return rep, nil
}

// gatherDecisions consults the oracle for every agent in a freshly shuffled
// order. Calls run concurrently up to s.Concurrency; nothing in the world is
// written until all of them return.
func (s *Simulation) gatherDecisions(ctx context.Context) ([]agents.AgentID, []oracle.Decision) {
	order := make([]agents.AgentID, len(s.Agents))
	for i := range order {
		order[i] = agents.AgentID(i)
	}
	s.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	feedback := s.FeedbackPercent()
	contexts := make([]oracle.Context, len(order))
	for i, id := range order {
		a := s.Agents[id]
		contexts[i] = oracle.Context{
			Name:            a.Name,
			Age:             a.Age,
			Traits:          a.Traits,
			HealthNarrative: agents.HealthNarrative(a),
			FeedbackPercent: feedback,
		}
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	decisions := make([]oracle.Decision, len(order))
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range contexts {
		g.Go(func() error {
			decisions[i] = s.Oracle.Decide(ctx, contexts[i])
			return nil
		})
	}
	_ = g.Wait()

	return order, decisions
}

// applyDecisions records each agent's memory for the day and moves it home
// or onto the grid, in decision order.
func (s *Simulation) applyDecisions(order []agents.AgentID, decisions []oracle.Decision) []Warning {
	var warnings []Warning
	for i, id := range order {
		a := s.Agents[id]
		d := decisions[i]

		agents.AddMemory(a, agents.Memory{
			Day:             s.Day,
			Health:          a.Health,
			Rationale:       d.Rationale,
			Response:        d.Response,
			HealthNarrative: agents.HealthNarrative(a),
			Location:        a.Location,
			StayHome:        d.StayHome,
		})

		if d.Err != nil {
			warnings = append(warnings, Warning{AgentID: a.ID, Name: a.Name, Message: d.Err.Error()})
			s.Logger.Warn("decision fallback", "day", s.Day, "agent", a.Name, "error", d.Err)
		}

		if d.StayHome {
			if a.Location == agents.Grid {
				s.removeFromGrid(a.ID)
			}
			a.Location = agents.Home
		} else {
			if a.Location != agents.Grid {
				s.OnGrid = append(s.OnGrid, a.ID)
			}
			a.Location = agents.Grid
		}
	}
	return warnings
}

func (s *Simulation) removeFromGrid(id agents.AgentID) {
	for i, other := range s.OnGrid {
		if other == id {
			s.OnGrid = append(s.OnGrid[:i], s.OnGrid[i+1:]...)
			return
		}
	}
}
