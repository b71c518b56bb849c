package replay

import (
	"time"

	"github.com/slcjordan/demoreel"
)

type EventKind string

const (
	EventDispatch EventKind = "dispatch"
	EventPause    EventKind = "pause"
	EventWait     EventKind = "wait"
	EventRate     EventKind = "rate"
)

// Event is one step of the replay timeline, reported after it happened.
type Event struct {
	Seq  int
	Kind EventKind
	At   time.Time

	// Action and Delay are set for dispatches; Delay is the keystroke delay
	// that followed the action. Pauses only set Delay.
	Action demoreel.ActionSpec
	Delay  time.Duration

	// Template, State, Match and Elapsed are set for waits.
	Template demoreel.Template
	State    string
	Match    demoreel.Match
	Elapsed  time.Duration

	// WPM is set for rate changes.
	WPM float64
}

// Detail is a one-line description used by sinks that store text.
func (e Event) Detail() string {
	switch e.Kind {
	case EventDispatch:
		return e.Action.String()
	case EventWait:
		return e.Template.String() + " " + e.State
	case EventPause:
		return e.Delay.String()
	case EventRate:
		return formatWPM(e.WPM)
	}
	return string(e.Kind)
}

// Listener observes the replay timeline. Notify runs on the replay
// goroutine, so implementations must not block for long.
type Listener interface {
	Notify(Event)
}

// Listeners fans an event out in order.
type Listeners []Listener

func (l Listeners) Notify(e Event) {
	for _, listener := range l {
		if listener != nil {
			listener.Notify(e)
		}
	}
}

type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) {
	f(e)
}
