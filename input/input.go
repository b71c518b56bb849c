// Package input delivers key presses, typed characters and mouse clicks to
// the application on an X display.
package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/logger"
)

var Stdout io.Writer = os.Stdout
var Stderr io.Writer = os.Stderr

// Dispatcher sends one input event to the foreground application.
type Dispatcher interface {
	Dispatch(ctx context.Context, action demoreel.ActionSpec) error
}

// Xdotool dispatches through the xdotool binary.
type Xdotool struct {
	// Binary defaults to "xdotool" on PATH.
	Binary string
	// Env is the environment of every invocation; it carries DISPLAY.
	Env []string
}

func (x *Xdotool) binary() string {
	if x.Binary == "" {
		return "xdotool"
	}
	return x.Binary
}

// Args builds the xdotool argument list for an action.
func Args(action demoreel.ActionSpec) ([]string, error) {
	mods := action.Modifiers.Names()
	switch {
	case action.Button != 0:
		var args []string
		for _, m := range mods {
			args = append(args, "keydown", m)
		}
		args = append(args,
			"mousemove", "--sync", strconv.Itoa(action.At.X), strconv.Itoa(action.At.Y),
			"click", strconv.Itoa(int(action.Button)),
		)
		for i := len(mods) - 1; i >= 0; i-- {
			args = append(args, "keyup", mods[i])
		}
		return args, nil
	case action.Text != "":
		if len(mods) > 0 {
			// xdotool type ignores held modifiers; a chord has to go through key.
			return []string{"key", "--clearmodifiers", strings.Join(append(mods, action.Text), "+")}, nil
		}
		return []string{"type", "--clearmodifiers", "--delay", "0", "--", action.Text}, nil
	case action.Key != "":
		return []string{"key", "--clearmodifiers", strings.Join(append(mods, string(action.Key)), "+")}, nil
	}
	return nil, errors.New("empty action")
}

func (x *Xdotool) Dispatch(ctx context.Context, action demoreel.ActionSpec) error {
	args, err := Args(action)
	if err != nil {
		return &demoreel.DispatchError{Action: action, Err: err}
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, x.binary(), args...)
	cmd.Env = x.Env
	cmd.Stdout = Stdout
	cmd.Stderr = io.MultiWriter(Stderr, &stderr)
	err = cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = errors.New(err.Error() + ": " + msg)
		}
		logger.Errorf(ctx, "could not dispatch %s: %s", action, err)
		return &demoreel.DispatchError{Action: action, Err: err}
	}
	logger.Debugf(ctx, "dispatched %s", action)
	return nil
}
