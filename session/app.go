package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/slcjordan/demoreel/logger"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

type AppOptions struct {
	Command string
	Args    []string
	Dir     string
	// Env is the complete environment, usually Display.Env().
	Env         []string
	GracePeriod time.Duration
}

// App is the application under demonstration. It runs in its own process
// group so Stop also reaches anything it spawned.
type App struct {
	name   string
	cmd    *exec.Cmd
	grace  time.Duration
	exited chan error
}

func StartApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Command == "" {
		return nil, errors.New("app: command is required")
	}
	ctx = logger.WithValue(ctx, "app", opts.Command)

	// The app outlives ctx on purpose; Stop is the only way to end it.
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", opts.Command, err)
	}
	logger.Infof(ctx, "started pid %d", cmd.Process.Pid)

	captured := make(chan struct{}, 2)
	go captureOutput(logger.WithValue(ctx, "stream", "stdout"), stdout, captured)
	go captureOutput(logger.WithValue(ctx, "stream", "stderr"), stderr, captured)

	exited := make(chan error, 1)
	go func() {
		// Wait closes the pipes, so drain them first.
		<-captured
		<-captured
		exited <- cmd.Wait()
		close(exited)
	}()

	return &App{
		name:   opts.Command,
		cmd:    cmd,
		grace:  orDefault(opts.GracePeriod, DefaultGracePeriod),
		exited: exited,
	}, nil
}

func captureOutput(ctx context.Context, r io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debugf(ctx, "%s", scanner.Text())
	}
}

func (a *App) Pid() int {
	return a.cmd.Process.Pid
}

// Exited is closed once the process is gone.
func (a *App) Exited() <-chan error {
	return a.exited
}

// Stop sends SIGTERM to the process group and SIGKILL once the grace period
// is over. Stopping an app that already exited is not an error.
func (a *App) Stop(ctx context.Context) error {
	pid := a.cmd.Process.Pid
	ctx = logger.WithValue(ctx, "app", a.name)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		logger.Warnf(ctx, "could not send SIGTERM: %s", err)
	}

	select {
	case <-a.exited:
		logger.Infof(ctx, "stopped")
		return nil
	case <-time.After(a.grace):
		logger.Warnf(ctx, "no exit after %s, sending SIGKILL", a.grace)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", a.name, err)
	}
	<-a.exited
	return nil
}
