package vision

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/logger"
)

var Stderr io.Writer = os.Stderr

// Visgrep grabs a frame of the X display with ffmpeg and searches it with
// visgrep from xautomation. Templates are converted with png2pat once.
type Visgrep struct {
	Display   string
	Size      string
	Env       []string
	Tolerance int
	// ScratchDir holds grabbed frames and converted patterns.
	ScratchDir string

	FFmpeg  string
	Png2pat string
	Visgrep string

	patterns map[string]pattern
}

type pattern struct {
	path   string
	width  int
	height int
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (v *Visgrep) Find(ctx context.Context, template demoreel.Template) (demoreel.Match, bool, error) {
	pat, err := v.pattern(ctx, template)
	if err != nil {
		return demoreel.Match{}, false, err
	}
	frame, err := v.grab(ctx)
	if err != nil {
		return demoreel.Match{}, false, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, orDefault(v.Visgrep, "visgrep"), "-t", strconv.Itoa(v.Tolerance), frame, pat.path)
	cmd.Env = v.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && stdout.Len() == 0 && stderr.Len() == 0) {
		return demoreel.Match{}, false, fmt.Errorf("visgrep: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	loc, ok, err := ParseVisgrep(&stdout)
	if err != nil || !ok {
		return demoreel.Match{}, false, err
	}
	return demoreel.Match{Location: loc, Width: pat.width, Height: pat.height}, true, nil
}

func (v *Visgrep) grab(ctx context.Context) (string, error) {
	frame := filepath.Join(v.ScratchDir, "frame.png")
	cmd := exec.CommandContext(
		ctx,
		orDefault(v.FFmpeg, "ffmpeg"),
		"-loglevel", "error",
		"-f", "x11grab",
		"-video_size", orDefault(v.Size, "1280x720"),
		"-i", v.Display,
		"-frames:v", "1",
		"-y", frame,
	)
	cmd.Env = v.Env
	cmd.Stderr = Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("could not grab frame of %s: %w", v.Display, err)
	}
	return frame, nil
}

func (v *Visgrep) pattern(ctx context.Context, template demoreel.Template) (pattern, error) {
	if p, ok := v.patterns[template.Path]; ok {
		return p, nil
	}
	f, err := os.Open(template.Path)
	if err != nil {
		return pattern{}, err
	}
	cfg, err := png.DecodeConfig(f)
	f.Close()
	if err != nil {
		return pattern{}, fmt.Errorf("template %s: %w", template, err)
	}

	base := strings.TrimSuffix(filepath.Base(template.Path), filepath.Ext(template.Path))
	out := filepath.Join(v.ScratchDir, fmt.Sprintf("%s-%d.pat", base, len(v.patterns)))
	dest, err := os.Create(out)
	if err != nil {
		return pattern{}, err
	}
	defer dest.Close()
	cmd := exec.CommandContext(ctx, orDefault(v.Png2pat, "png2pat"), template.Path)
	cmd.Stdout = dest
	cmd.Stderr = Stderr
	if err := cmd.Run(); err != nil {
		return pattern{}, fmt.Errorf("png2pat %s: %w", template.Path, err)
	}

	p := pattern{path: out, width: cfg.Width, height: cfg.Height}
	if v.patterns == nil {
		v.patterns = make(map[string]pattern)
	}
	v.patterns[template.Path] = p
	logger.Debugf(ctx, "converted template %s (%dx%d)", template, cfg.Width, cfg.Height)
	return p, nil
}

// ParseVisgrep reads the first "x,y index" line of visgrep output.
func ParseVisgrep(r io.Reader) (demoreel.Location, bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		coords, _, _ := strings.Cut(line, " ")
		xs, ys, found := strings.Cut(coords, ",")
		if !found {
			return demoreel.Location{}, false, fmt.Errorf("unexpected visgrep line: %q", line)
		}
		x, err := strconv.Atoi(xs)
		if err != nil {
			return demoreel.Location{}, false, fmt.Errorf("could not parse x in %q: %w", line, err)
		}
		y, err := strconv.Atoi(ys)
		if err != nil {
			return demoreel.Location{}, false, fmt.Errorf("could not parse y in %q: %w", line, err)
		}
		return demoreel.Location{X: x, Y: y}, true, nil
	}
	return demoreel.Location{}, false, scanner.Err()
}
