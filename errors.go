package demoreel

import (
	"errors"
	"fmt"
	"time"
)

type MultiError []error

func (e MultiError) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e), []error(e))
}

func (e MultiError) Unwrap() []error {
	return e
}

func (e *MultiError) Pop() error {
	if len(*e) == 0 {
		return nil
	}
	last := (*e)[len(*e)-1]
	(*e) = (*e)[:len(*e)-1]
	return last
}

func (e *MultiError) Push(err error) {
	if err == nil {
		return
	}
	(*e) = append(*e, err)
}

// ErrOrNil returns nil for an empty set so callers can return it directly.
func (e MultiError) ErrOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

var (
	// ErrDispatch marks an input event that never reached the application.
	ErrDispatch = errors.New("dispatch failed")

	// ErrTimeout marks a template that did not appear before its deadline.
	ErrTimeout = errors.New("wait timed out")

	ErrInvalidRate  = errors.New("typing rate must be positive")
	ErrInvalidCount = errors.New("repeat count must not be negative")
)

// DispatchError is returned when an input event cannot be delivered.
// There is no recovery: a recording with a missed keystroke is discarded.
type DispatchError struct {
	Action ActionSpec
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %s", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatch, e.Err}
}

// TimeoutError is returned when a template never matched.
type TimeoutError struct {
	Template Template
	Timeout  time.Duration
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("template %s not found within %s (waited %s)", e.Template, e.Timeout, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
