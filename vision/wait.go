// Package vision synchronizes a replay against what is visible on screen.
//
// The application exposes no completion signal, so the only way to know a
// dialog opened or a button rendered is to poll the screen for a template
// image. Matching itself is delegated to a Matcher.
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/timing"
)

// DefaultInterval is the pause between two screen probes.
const DefaultInterval = 250 * time.Millisecond

// Matcher looks for a template on the current screen.
type Matcher interface {
	Find(ctx context.Context, template demoreel.Template) (demoreel.Match, bool, error)
}

// State of a single wait. Polling is entered on call; Matched and TimedOut
// are terminal.
type State int

const (
	Polling State = iota
	Matched
	TimedOut
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is the terminal outcome of WaitFor. Match is only meaningful when
// State is Matched.
type Result struct {
	State    State
	Match    demoreel.Match
	Elapsed  time.Duration
	Attempts int
}

type Options struct {
	// Interval between probes; DefaultInterval when zero.
	Interval time.Duration
}

// WaitFor probes the screen until the template matches or the timeout
// elapses. The loop never sleeps past the deadline and probes one last time
// at the deadline, so TimedOut is only reported once at least spec.Timeout
// has passed. A matcher error ends the wait immediately.
func WaitFor(ctx context.Context, clock timing.Clock, m Matcher, spec demoreel.WaitSpec, opts Options) (Result, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx = logger.WithValue(ctx, "template", spec.Template.String())

	start := clock.Now()
	deadline := start.Add(spec.Timeout)
	result := Result{State: Polling}
	for {
		result.Attempts++
		match, ok, err := m.Find(ctx, spec.Template)
		now := clock.Now()
		result.Elapsed = now.Sub(start)
		if err != nil {
			return result, fmt.Errorf("probe %s: %w", spec.Template, err)
		}
		if ok {
			result.State = Matched
			result.Match = match
			logger.Debugf(ctx, "matched at %s after %d probes", match.Location, result.Attempts)
			return result, nil
		}
		if result.Elapsed >= spec.Timeout {
			result.State = TimedOut
			logger.Warnf(ctx, "no match after %s", result.Elapsed)
			return result, nil
		}
		pause := deadline.Sub(now)
		if pause > interval {
			pause = interval
		}
		if err := clock.Sleep(ctx, pause); err != nil {
			return result, err
		}
	}
}
