package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/slcjordan/demoreel/logger"
)

type RecorderOptions struct {
	Display   string
	Size      string
	Framerate int
	Output    string
	Env       []string
	// FFmpeg is the encoder binary, "ffmpeg" when empty.
	FFmpeg string
	// BannerBytes of stderr mark ffmpeg as capturing. Zero disables the wait.
	BannerBytes  int
	ReadyTimeout time.Duration
}

// Recorder captures the display into a VP9 webm file.
type Recorder struct {
	output string
	cmd    *exec.Cmd
	exited chan error
}

// Args is the ffmpeg command line for opts, without the binary.
func (opts RecorderOptions) Args() []string {
	framerate := opts.Framerate
	if framerate <= 0 {
		framerate = 30
	}
	return []string{
		"-video_size", opts.Size,
		"-framerate", strconv.Itoa(framerate),
		"-f", "x11grab",
		"-i", opts.Display,
		"-c:v", "libvpx-vp9",
		"-preset", "slow",
		"-crf", "30",
		"-y", opts.Output,
	}
}

func StartRecorder(ctx context.Context, opts RecorderOptions) (*Recorder, error) {
	bin := opts.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	ctx = logger.WithValue(ctx, "output", opts.Output)

	// SIGINT from Stop ends the recording; a context kill would leave the
	// file without its index.
	ffmpeg := exec.Command(bin, opts.Args()...)
	ffmpeg.Env = opts.Env
	ffmpeg.Stdout = Stdout
	ffmpeg.Stderr = Stderr
	var pipe io.WriteCloser
	var done chan struct{}
	if opts.BannerBytes > 0 {
		pipe, done = untilAtLeastNWritten(Stderr, opts.BannerBytes)
		ffmpeg.Stderr = pipe
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	r := &Recorder{output: opts.Output, cmd: ffmpeg, exited: waitChan(ffmpeg, pipe)}
	if done != nil {
		if err := awaitBanner(ctx, "ffmpeg", done, r.exited, orDefault(opts.ReadyTimeout, 10*time.Second)); err != nil {
			r.cmd.Process.Kill()
			return nil, err
		}
	}
	logger.Infof(ctx, "recording")
	return r, nil
}

func (r *Recorder) Output() string {
	return r.output
}

// Stop interrupts ffmpeg and waits for it to finish writing the file.
func (r *Recorder) Stop(ctx context.Context) error {
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		return nil
	}
	select {
	case err := <-r.exited:
		// ffmpeg exits 255 after SIGINT even when the file is complete.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 255 {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("ffmpeg: %w", err)
		}
	case <-time.After(10 * time.Second):
		r.cmd.Process.Kill()
		<-r.exited
		return fmt.Errorf("ffmpeg did not finish %s", r.output)
	}
	logger.Infof(logger.WithValue(ctx, "output", r.output), "recording saved")
	return nil
}
