// Package session owns the processes around a recording: the virtual X
// display, the application being driven and the screen recorder.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/slcjordan/demoreel/logger"
)

var Stdout io.Writer = os.Stdout
var Stderr io.Writer = os.Stderr

// untilAtLeastNWritten tees everything written to w and closes the returned
// channel once n bytes went through. It stays open if the writer is
// closed early. Xvfb and ffmpeg announce readiness only
// by printing their banner, so the banner length is the readiness signal.
func untilAtLeastNWritten(w io.Writer, n int) (io.WriteCloser, chan struct{}) {
	pr, pw := io.Pipe()
	r := io.TeeReader(pr, w)
	done := make(chan struct{})
	go func() {
		buff := make([]byte, n)
		if _, err := io.ReadAtLeast(r, buff, n); err == nil {
			close(done)
		}
		io.Copy(io.Discard, r)
	}()

	return pw, done
}

// awaitBanner blocks until the banner was written, the process exited or
// the timeout passed. A timeout is logged and treated as ready.
func awaitBanner(ctx context.Context, name string, done <-chan struct{}, exited <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case err := <-exited:
		if err == nil {
			err = errors.New("exited")
		}
		return fmt.Errorf("%s: %w", name, err)
	case <-timer.C:
		logger.Warnf(ctx, "%s gave no banner within %s, continuing", name, timeout)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitChan reaps cmd in the background. The pipe writer, when given, is
// closed afterwards so the banner goroutine ends.
func waitChan(cmd *exec.Cmd, pipe io.Closer) chan error {
	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if pipe != nil {
			pipe.Close()
		}
		exited <- err
		close(exited)
	}()
	return exited
}

// RemoveIfExists deletes a file left over from an earlier take. It reports
// whether something was removed; a missing file is not an error.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Cleanup removes every path and returns the ones that existed.
func Cleanup(ctx context.Context, paths ...string) ([]string, error) {
	var removed []string
	for _, p := range paths {
		ok, err := RemoveIfExists(p)
		if err != nil {
			return removed, fmt.Errorf("cleanup: %w", err)
		}
		if ok {
			logger.Infof(ctx, "removed %s", p)
			removed = append(removed, p)
		}
	}
	return removed, nil
}
