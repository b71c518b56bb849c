package session

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/replay"
)

// Click samples outside this range sound like thuds or pops and are skipped.
const (
	MinClickLength = 60 * time.Millisecond
	MaxClickLength = 300 * time.Millisecond
)

type SoundFile struct {
	Filename string
	Duration time.Duration
}

// Probe reads the duration of an audio file with ffprobe.
func Probe(ctx context.Context, ffprobe, filename string) (SoundFile, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffprobe, filename, "-show_entries", "format=duration")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return SoundFile{}, fmt.Errorf("ffprobe %s: %w: %s", filename, err, strings.TrimSpace(stderr.String()))
	}
	d, err := parseProbe(stdout.String())
	if err != nil {
		return SoundFile{}, fmt.Errorf("ffprobe %s: %w", filename, err)
	}
	return SoundFile{Filename: filename, Duration: d}, nil
}

// parseProbe reads the duration out of ffprobe's
//
//	[FORMAT]
//	duration=0.120000
//	[/FORMAT]
//
// section.
func parseProbe(out string) (time.Duration, error) {
	tags := strings.Split(out, "FORMAT]")
	if len(tags) != 3 {
		return 0, fmt.Errorf("unexpected number of FORMAT tags: %d", len(tags))
	}
	for _, line := range strings.Split(tags[1], "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key != "duration" {
			continue
		}
		seconds, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse seconds: %w", err)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("no duration in FORMAT section")
}

// Clicks builds a keyboard soundtrack: one short click sample per key
// dispatch, placed at the moment the key went out. It listens on the replay
// timeline, so the audio lines up with the recording started alongside it.
type Clicks struct {
	Sounds []SoundFile
	start  time.Time
	filter *bytes.Buffer
	idx    int
	rng    *rand.Rand
}

// LoadClicks probes every file in dir and keeps those that sound like a
// key press. The seed picks samples as in NewClicks.
func LoadClicks(ctx context.Context, dir, ffprobe string, seed uint64) (*Clicks, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading clicks: %w", err)
	}
	var sounds []SoundFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := filepath.Join(dir, entry.Name())
		sound, err := Probe(ctx, ffprobe, filename)
		if err != nil {
			logger.Errorf(ctx, "could not load %q: %s", filename, err)
			continue
		}
		if sound.Duration < MinClickLength || sound.Duration > MaxClickLength {
			continue
		}
		sounds = append(sounds, sound)
	}
	if len(sounds) == 0 {
		return nil, fmt.Errorf("no usable click samples in %s", dir)
	}
	return NewClicks(sounds, seed), nil
}

// NewClicks uses the given samples. Seed 0 picks samples at random.
func NewClicks(sounds []SoundFile, seed uint64) *Clicks {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Clicks{
		Sounds: sounds,
		filter: bytes.NewBuffer(nil),
		rng:    rand.New(rand.NewPCG(seed, seed)),
	}
}

// Start sets time zero of the soundtrack and drops earlier clicks.
func (k *Clicks) Start(at time.Time) {
	k.start = at
	k.filter = bytes.NewBuffer(nil)
	k.idx = 0
}

// Click places one sample at the given instant.
func (k *Clicks) Click(at time.Time) {
	if len(k.Sounds) == 0 {
		return
	}
	i := k.rng.IntN(len(k.Sounds))
	offset := at.Sub(k.start).Milliseconds()
	if offset < 0 {
		offset = 0
	}
	fmt.Fprintf(k.filter, "[%d:a]adelay='%d|%d'[L%d];", i, offset, offset, k.idx)
	k.idx++
}

func (k *Clicks) Count() int {
	return k.idx
}

// Notify clicks for every keyboard dispatch. Mouse clicks stay silent.
func (k *Clicks) Notify(e replay.Event) {
	if e.Kind != replay.EventDispatch || !e.Action.IsKeyboard() {
		return
	}
	k.Click(e.At)
}

// Filter is the ffmpeg filter graph mixing every click placed so far.
func (k *Clicks) Filter() string {
	var b strings.Builder
	b.WriteString(k.filter.String())
	for i := 0; i < k.idx; i++ {
		fmt.Fprintf(&b, "[L%d]", i)
	}
	fmt.Fprintf(&b, "amix=inputs=%d:normalize=0:duration=longest,volume=1.0,apad=pad_dur=15", k.idx)
	return b.String()
}

// Args is the ffmpeg command line that renders the soundtrack to filename.
func (k *Clicks) Args(filename string) []string {
	var args []string
	for _, sound := range k.Sounds {
		args = append(args, "-i", sound.Filename)
	}
	args = append(args, "-filter_complex", k.Filter())
	return append(args, "-y", filename)
}

// Save renders the soundtrack. Nothing is written when no key was pressed.
func (k *Clicks) Save(ctx context.Context, ffmpeg, filename string) error {
	if k.idx == 0 {
		logger.Infof(ctx, "no clicks to save")
		return nil
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpeg, k.Args(filename)...)
	cmd.Stdout = Stdout
	cmd.Stderr = Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("could not save clicks: %w", err)
	}
	logger.Infof(logger.WithValue(ctx, "output", filename), "saved %d clicks", k.idx)
	return nil
}
