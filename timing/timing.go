// Package timing turns a words-per-minute typing rate into per-keystroke
// delays with human-looking jitter.
package timing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/slcjordan/demoreel"
)

const (
	// DefaultWPM is the baseline typing rate.
	DefaultWPM = 80.0

	// CharsPerWord is the average word length, including the space.
	CharsPerWord = 5.1

	// StrokesPerChar models each character as a press plus the rhythm gap
	// that follows it.
	StrokesPerChar = 2.0
)

// Base is the jitter-free delay after one keystroke at wpm.
func Base(wpm float64) time.Duration {
	if wpm <= 0 {
		return 0
	}
	cps := wpm * CharsPerWord / 60
	msPerChar := 1000 / cps
	return time.Duration(msPerChar / StrokesPerChar * float64(time.Millisecond))
}

// DelayFor adds u*Base/2 of jitter to Base(wpm). u is clamped to [0, 1], so
// the result always lies in [Base, 1.5*Base].
func DelayFor(wpm float64, u float64) time.Duration {
	switch {
	case u < 0:
		u = 0
	case u > 1:
		u = 1
	}
	base := Base(wpm)
	return base + time.Duration(u*float64(base)/2)
}

// Profile is the typing rate used for every keystroke delay.
type Profile struct {
	WPM float64
}

func DefaultProfile() Profile {
	return Profile{WPM: DefaultWPM}
}

// Validate fails for non-positive rates.
func (p Profile) Validate() error {
	if !(p.WPM > 0) {
		return demoreel.ErrInvalidRate
	}
	return nil
}

func (p Profile) Base() time.Duration {
	return Base(p.WPM)
}

// Delay draws one jittered keystroke delay.
func (p Profile) Delay(j *Jitter) time.Duration {
	return DelayFor(p.WPM, j.Float64())
}

// Jitter is the random source for delays. A fixed seed replays a run with
// identical pacing.
type Jitter struct {
	rng *rand.Rand
}

// NewJitter seeds the source. Seed 0 picks a random seed.
func NewJitter(seed uint64) *Jitter {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Jitter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 returns a value in [0, 1).
func (j *Jitter) Float64() float64 {
	return j.rng.Float64()
}

// Clock is the engine's only way to suspend. Sleep blocks the calling
// sequence for d.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
