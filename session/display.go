package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/slcjordan/demoreel/logger"
)

type DisplayOptions struct {
	Number uint
	Width  int
	Height int
	// Xvfb is the server binary, "Xvfb" when empty.
	Xvfb string
	// BannerBytes is how much stderr Xvfb writes before it accepts
	// clients. Zero disables the wait.
	BannerBytes  int
	ReadyTimeout time.Duration
}

// Display is a virtual X server every other process of the session draws on.
type Display struct {
	name   string
	width  int
	height int
	env    []string
	cmd    *exec.Cmd
	exited chan error
}

func StartDisplay(ctx context.Context, opts DisplayOptions) (*Display, error) {
	name := fmt.Sprintf(":%d", opts.Number)
	env := append(os.Environ(), "DISPLAY="+name)
	bin := opts.Xvfb
	if bin == "" {
		bin = "Xvfb"
	}
	ctx = logger.WithValue(ctx, "display", name)

	xvfb := exec.CommandContext(ctx, bin, name, "-screen", "0", fmt.Sprintf("%dx%dx24", opts.Width, opts.Height))
	xvfb.Stdout = Stdout
	xvfb.Stderr = Stderr
	xvfb.Env = env
	var pipe io.WriteCloser
	var done chan struct{}
	if opts.BannerBytes > 0 {
		pipe, done = untilAtLeastNWritten(Stderr, opts.BannerBytes)
		xvfb.Stderr = pipe
	}
	if err := xvfb.Start(); err != nil {
		return nil, fmt.Errorf("starting Xvfb: %w", err)
	}
	d := &Display{
		name:   name,
		width:  opts.Width,
		height: opts.Height,
		env:    env,
		cmd:    xvfb,
		exited: waitChan(xvfb, pipe),
	}
	if done != nil {
		if err := awaitBanner(ctx, "Xvfb", done, d.exited, orDefault(opts.ReadyTimeout, 5*time.Second)); err != nil {
			d.Stop()
			return nil, err
		}
	}
	logger.Infof(ctx, "display ready %dx%d", opts.Width, opts.Height)
	return d, nil
}

// Name is the X display name, e.g. ":99".
func (d *Display) Name() string { return d.name }

// Size is the screen size in ffmpeg's WxH form.
func (d *Display) Size() string { return fmt.Sprintf("%dx%d", d.width, d.height) }

// Env is the process environment with DISPLAY pointing at this server.
func (d *Display) Env() []string { return d.env }

func (d *Display) Stop() error {
	if d.cmd.Process == nil {
		return nil
	}
	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil
	}
	select {
	case <-d.exited:
	case <-time.After(2 * time.Second):
		d.cmd.Process.Kill()
		<-d.exited
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
