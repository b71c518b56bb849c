// Package replay composes input primitives into human-paced gestures.
//
// An Engine runs strictly sequentially: every primitive dispatches one input
// event and then blocks for one keystroke delay drawn from the typing
// profile, so a recording has exactly one observable timeline. An Engine is
// not safe for concurrent use.
package replay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/input"
	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/timing"
	"github.com/slcjordan/demoreel/vision"
)

type Options struct {
	Dispatcher input.Dispatcher
	Matcher    vision.Matcher
	// Clock defaults to timing.RealClock.
	Clock timing.Clock
	// Jitter defaults to a randomly seeded source.
	Jitter *timing.Jitter
	// Profile is the starting rate and the baseline RestoreDefaultRate
	// returns to. Zero means timing.DefaultWPM.
	Profile      timing.Profile
	PollInterval time.Duration
	Listener     Listener
}

type Engine struct {
	dispatcher input.Dispatcher
	matcher    vision.Matcher
	clock      timing.Clock
	jitter     *timing.Jitter
	profile    timing.Profile
	baseline   timing.Profile
	poll       time.Duration
	listener   Listener
	seq        int
}

func New(opts Options) (*Engine, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("replay: dispatcher is required")
	}
	profile := opts.Profile
	if profile.WPM == 0 {
		profile = timing.DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		dispatcher: opts.Dispatcher,
		matcher:    opts.Matcher,
		clock:      opts.Clock,
		jitter:     opts.Jitter,
		profile:    profile,
		baseline:   profile,
		poll:       opts.PollInterval,
		listener:   opts.Listener,
	}
	if e.clock == nil {
		e.clock = timing.RealClock{}
	}
	if e.jitter == nil {
		e.jitter = timing.NewJitter(0)
	}
	return e, nil
}

func (e *Engine) Profile() timing.Profile {
	return e.profile
}

// SetRate changes the typing rate for every following keystroke.
func (e *Engine) SetRate(ctx context.Context, wpm float64) error {
	p := timing.Profile{WPM: wpm}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("set rate %v: %w", wpm, err)
	}
	e.profile = p
	logger.Debugf(ctx, "typing rate %s wpm", formatWPM(wpm))
	e.notify(Event{Kind: EventRate, WPM: wpm})
	return nil
}

// RestoreDefaultRate returns to the rate the engine was created with.
func (e *Engine) RestoreDefaultRate(ctx context.Context) {
	e.profile = e.baseline
	logger.Debugf(ctx, "typing rate restored to %s wpm", formatWPM(e.baseline.WPM))
	e.notify(Event{Kind: EventRate, WPM: e.baseline.WPM})
}

// Press dispatches one action and then blocks for one keystroke delay.
// A dispatch failure is returned as is; nothing is retried.
func (e *Engine) Press(ctx context.Context, action demoreel.ActionSpec) error {
	if err := e.dispatcher.Dispatch(ctx, action); err != nil {
		return err
	}
	delay := e.profile.Delay(e.jitter)
	e.notify(Event{Kind: EventDispatch, Action: action, Delay: delay})
	return e.clock.Sleep(ctx, delay)
}

// hotkey dispatches a chord without the keystroke delay Press adds.
func (e *Engine) hotkey(ctx context.Context, action demoreel.ActionSpec) error {
	if err := e.dispatcher.Dispatch(ctx, action); err != nil {
		return err
	}
	e.notify(Event{Kind: EventDispatch, Action: action})
	return nil
}

// Delay blocks for one keystroke delay without dispatching anything.
func (e *Engine) Delay(ctx context.Context) error {
	return e.clock.Sleep(ctx, e.profile.Delay(e.jitter))
}

// Pause blocks for a fixed minimum wait. Pauses stand in for a completion
// signal the application does not give; they do not guarantee it is done.
func (e *Engine) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	e.notify(Event{Kind: EventPause, Delay: d})
	return e.clock.Sleep(ctx, d)
}

// Type presses one action per rune of s, in order. Control runes such as
// '\n' and '\t' are single special keys.
func (e *Engine) Type(ctx context.Context, s string) error {
	for _, r := range s {
		if err := e.Press(ctx, demoreel.Char(r)); err != nil {
			return err
		}
	}
	return nil
}

// Repeat calls fn n times, each call followed by one keystroke delay.
func (e *Engine) Repeat(ctx context.Context, n int, fn func(context.Context) error) error {
	if n < 0 {
		return fmt.Errorf("repeat %d: %w", n, demoreel.ErrInvalidCount)
	}
	for i := 0; i < n; i++ {
		if err := fn(ctx); err != nil {
			return err
		}
		if err := e.Delay(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor blocks until the template is on screen. A timeout is fatal to
// the scene and comes back as a *demoreel.TimeoutError.
func (e *Engine) WaitFor(ctx context.Context, spec demoreel.WaitSpec) (demoreel.Match, error) {
	if e.matcher == nil {
		return demoreel.Match{}, fmt.Errorf("replay: wait for %s: no matcher configured", spec.Template)
	}
	res, err := vision.WaitFor(ctx, e.clock, e.matcher, spec, vision.Options{Interval: e.poll})
	e.notify(Event{
		Kind:     EventWait,
		Template: spec.Template,
		State:    res.State.String(),
		Match:    res.Match,
		Elapsed:  res.Elapsed,
	})
	if err != nil {
		return demoreel.Match{}, err
	}
	if res.State != vision.Matched {
		return demoreel.Match{}, &demoreel.TimeoutError{Template: spec.Template, Timeout: spec.Timeout, Elapsed: res.Elapsed}
	}
	return res.Match, nil
}

func (e *Engine) notify(ev Event) {
	if e.listener == nil {
		return
	}
	e.seq++
	ev.Seq = e.seq
	ev.At = e.clock.Now()
	e.listener.Notify(ev)
}

func formatWPM(wpm float64) string {
	return strconv.FormatFloat(wpm, 'f', -1, 64)
}
