// Package oracle is the boundary to the external decision service that tells
// each agent whether to stay home. Whatever the service does, an Oracle
// always yields a decision.
package oracle

import (
	"context"
	"errors"
)

// ErrUnparseable marks a service answer that held no recognisable yes/no.
var ErrUnparseable = errors.New("oracle response not parseable")

// Context is the public view of an agent handed to the decision service.
type Context struct {
	Name            string
	Age             uint16
	Traits          string
	HealthNarrative string
	// FeedbackPercent is yesterday's share of the population on infection
	// day 4, in percent.
	FeedbackPercent float64
}

// Decision is the outcome of one consultation.
type Decision struct {
	StayHome  bool
	Rationale *string // Nil when the service gave none or failed
	Response  string  // Raw answer as returned, empty on failure
	// Err is set when the decision is a fallback. It is informational: the
	// decision is still valid and must be applied.
	Err error
}

// Oracle decides whether an agent stays home today.
type Oracle interface {
	Decide(ctx context.Context, c Context) Decision
}

// Completer is a remote decision service returning free text.
type Completer interface {
	Complete(ctx context.Context, c Context) (string, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, c Context) Decision

// Decide calls f.
func (f Func) Decide(ctx context.Context, c Context) Decision {
	return f(ctx, c)
}

// Always returns an oracle that gives the same answer to everyone.
func Always(stayHome bool) Oracle {
	resp, why := "No", "Needs to go to work."
	if stayHome {
		resp, why = "Yes", "Prefers to stay home."
	}
	return Func(func(_ context.Context, c Context) Decision {
		r := c.Name + " " + lowerFirst(why)
		return Decision{StayHome: stayHome, Rationale: &r, Response: resp}
	})
}

// PerAgent routes named agents to their own oracle and everyone else to Default.
type PerAgent struct {
	ByName  map[string]Oracle
	Default Oracle
}

// Decide dispatches on c.Name.
func (p PerAgent) Decide(ctx context.Context, c Context) Decision {
	if o, ok := p.ByName[c.Name]; ok {
		return o.Decide(ctx, c)
	}
	return p.Default.Decide(ctx, c)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
