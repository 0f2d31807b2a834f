package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultRetryDelay is the pause before the single retry of a failed call.
const DefaultRetryDelay = 60 * time.Second

// Adapter turns a Completer into an Oracle: one retry after RetryDelay on
// error, then a "go out" fallback. Unparseable answers take the same fallback.
type Adapter struct {
	Completer  Completer
	RetryDelay time.Duration
	Logger     *slog.Logger

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter creates an Adapter. A nil logger uses slog.Default().
func NewAdapter(c Completer, retryDelay time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		Completer:  c,
		RetryDelay: retryDelay,
		Logger:     logger,
		sleep:      sleepCtx,
	}
}

// Decide consults the service. It never fails: on any error the agent goes
// out and Decision.Err carries the cause.
func (a *Adapter) Decide(ctx context.Context, c Context) Decision {
	out, err := a.Completer.Complete(ctx, c)
	if err != nil {
		a.Logger.Warn("oracle call failed, retrying", "agent", c.Name, "delay", a.RetryDelay, "error", err)
		if serr := a.sleep(ctx, a.RetryDelay); serr != nil {
			return fallback(fmt.Errorf("oracle retry aborted: %w", serr))
		}
		out, err = a.Completer.Complete(ctx, c)
		if err != nil {
			a.Logger.Warn("oracle retry failed, agent goes out", "agent", c.Name, "error", err)
			return fallback(fmt.Errorf("oracle call: %w", err))
		}
	}

	d := Interpret(out)
	if d.Err != nil {
		a.Logger.Warn("unexpected oracle response, agent goes out", "agent", c.Name, "response", out)
	}
	return d
}

// Interpret parses a "Reasoning: ... Response: ..." answer into a Decision.
// "no" is checked before "yes", matching a bare substring in the response.
func Interpret(output string) Decision {
	reasoning, response, ok := ParseResponse(output)
	if !ok {
		d := fallback(ErrUnparseable)
		d.Response = output
		return d
	}

	d := Decision{Response: response}
	if reasoning != "" {
		d.Rationale = &reasoning
	}
	lower := strings.ToLower(response)
	switch {
	case strings.Contains(lower, "no"):
		d.StayHome = false
	case strings.Contains(lower, "yes"):
		d.StayHome = true
	default:
		d.Rationale = nil
		d.Err = fmt.Errorf("%w: %q", ErrUnparseable, response)
	}
	return d
}

// ParseResponse extracts the reasoning and the one-word response. The
// response is cut at its first period.
func ParseResponse(output string) (reasoning, response string, ok bool) {
	_, rest, found := strings.Cut(output, "Reasoning:")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "Response:")
	if len(parts) != 2 {
		return "", "", false
	}
	reasoning = strings.TrimSpace(parts[0])
	response, _, _ = strings.Cut(strings.TrimSpace(parts[1]), ".")
	return reasoning, response, true
}

func fallback(err error) Decision {
	return Decision{StayHome: false, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
