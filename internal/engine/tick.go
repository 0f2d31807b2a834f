// Package engine provides the day-stepped epidemic simulation and its run loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// Checkpoint labels for the end of a run.
const (
	LabelFinalEarly = "final_early"
	LabelCompleted  = "completed"
)

// zeroStreakStop is the number of consecutive infection-free days (the day
// the count reached zero plus two more) after which a run stops early.
const zeroStreakStop = 3

// Checkpointer persists the simulation after each day.
type Checkpointer interface {
	Save(sim *Simulation, label string) error
}

// Outcome describes how a run ended.
type Outcome uint8

const (
	OutcomeCompleted Outcome = iota // Reached the target day
	OutcomeEarlyStop                // Ran out of infections
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeEarlyStop:
		return "early_stop"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Engine drives a Simulation forward one day at a time.
type Engine struct {
	Sim        *Simulation
	TargetDays int // Run until Sim.Day reaches this
	Checkpoint Checkpointer
	Logger     *slog.Logger

	// OnDay is called after each day has been checkpointed.
	OnDay func(DayReport)
}

// NewEngine creates an engine for sim.
func NewEngine(sim *Simulation, targetDays int, cp Checkpointer) *Engine {
	return &Engine{
		Sim:        sim,
		TargetDays: targetDays,
		Checkpoint: cp,
		Logger:     slog.Default(),
	}
}

// Run steps the simulation until the target day or an early stop, saving a
// checkpoint after every day. A checkpoint failure aborts the run. Cancelling
// ctx stops the run between days; the last saved checkpoint stays
// authoritative.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	sim := e.Sim
	e.Logger.Info("simulation engine started",
		"day", sim.Day,
		"target_days", e.TargetDays,
		"population", sim.Population(),
		"infected", sim.InfectedCount,
	)

	for sim.Day < e.TargetDays {
		if sim.ZeroStreak >= zeroStreakStop {
			e.Logger.Info("run already ended early", "day", sim.Day)
			return OutcomeEarlyStop, nil
		}
		if err := ctx.Err(); err != nil {
			e.Logger.Info("simulation engine stopped", "day", sim.Day)
			return OutcomeCompleted, err
		}

		rep, err := sim.Step(ctx)
		if err != nil {
			return OutcomeCompleted, fmt.Errorf("day %d: %w", sim.Day, err)
		}
		e.logDay(rep)

		label := strconv.Itoa(sim.Day)
		early := sim.ZeroStreak >= zeroStreakStop
		if early {
			label = LabelFinalEarly
		}
		if err := e.save(label); err != nil {
			return OutcomeCompleted, err
		}
		if e.OnDay != nil {
			e.OnDay(rep)
		}

		if early {
			e.Logger.Info("no infections left, stopping early", "day", sim.Day, "date", sim.Date.Format("2006-01-02"))
			return OutcomeEarlyStop, nil
		}
	}

	if err := e.save(LabelCompleted); err != nil {
		return OutcomeCompleted, err
	}
	e.Logger.Info("simulation complete", "day", sim.Day)
	return OutcomeCompleted, nil
}

func (e *Engine) save(label string) error {
	if e.Checkpoint == nil {
		return nil
	}
	if err := e.Checkpoint.Save(e.Sim, label); err != nil {
		return fmt.Errorf("checkpoint %s: %w", label, err)
	}
	return nil
}

func (e *Engine) logDay(rep DayReport) {
	e.Logger.Info("daily report",
		"day", rep.Day,
		"date", rep.Date.Format("2006-01-02"),
		"population", e.Sim.Population(),
		"new_cases", rep.NewCases,
		"infected", rep.InfectedCount,
		"recovered", rep.After.Recovered,
		"on_grid", rep.After.Grid,
		"contacts", rep.TotalContacts,
		"day4", rep.Day4Count,
		"warnings", len(rep.Warnings),
	)
}
