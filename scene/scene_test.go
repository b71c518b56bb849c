package scene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/replay"
	"github.com/slcjordan/demoreel/timing"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type recorder struct{ actions []demoreel.ActionSpec }

func (r *recorder) Dispatch(_ context.Context, a demoreel.ActionSpec) error {
	r.actions = append(r.actions, a)
	return nil
}

type templateMatcher struct {
	found map[string]demoreel.Match
	asked []demoreel.Template
}

func (m *templateMatcher) Find(_ context.Context, t demoreel.Template) (demoreel.Match, bool, error) {
	m.asked = append(m.asked, t)
	match, ok := m.found[t.Name]
	return match, ok, nil
}

func newEngine(t *testing.T, m *templateMatcher) (*replay.Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := replay.New(replay.Options{
		Dispatcher: rec,
		Matcher:    m,
		Clock:      &fakeClock{},
		Jitter:     timing.NewJitter(7),
	})
	require.NoError(t, err)
	return e, rec
}

const demo = `
name: rename-demo
steps:
  - wait: {template: img/editor.png, timeout: 2s}
  - type: "ab"
  - press: ctrl+shift+Right
  - repeat: {count: 2, step: {press: Down}}
  - rate: 240
  - typeln: "x"
  - restore_rate: true
  - pause: 100ms
  - click: {template: /abs/create.png, name: create}
`

func TestParseAndRun(t *testing.T) {
	sc, err := Parse([]byte(demo), "/scenes")
	require.NoError(t, err)
	assert.Equal(t, "rename-demo", sc.Name)
	require.Len(t, sc.Steps, 9)
	assert.Equal(t, "wait", sc.Steps[0].Kind())
	assert.Equal(t, 2*time.Second, sc.Steps[0].Wait.Timeout)
	assert.Equal(t, 100*time.Millisecond, sc.Steps[7].Pause)

	m := &templateMatcher{found: map[string]demoreel.Match{
		"editor": {},
		"create": {Location: demoreel.Location{X: 10, Y: 10}, Width: 20, Height: 10},
	}}
	e, rec := newEngine(t, m)

	require.NoError(t, sc.Run(context.Background(), e))
	assert.Equal(t, []demoreel.ActionSpec{
		{Text: "a"},
		{Text: "b"},
		demoreel.KeyPress(demoreel.KeyRight, demoreel.ModCtrl, demoreel.ModShift),
		{Key: demoreel.KeyDown},
		{Key: demoreel.KeyDown},
		{Text: "x"},
		{Key: demoreel.KeyReturn},
		demoreel.Click(demoreel.ButtonLeft, demoreel.Location{X: 20, Y: 15}),
	}, rec.actions)
	assert.Equal(t, timing.DefaultWPM, e.Profile().WPM)

	require.Len(t, m.asked, 2)
	assert.Equal(t, demoreel.Template{Name: "editor", Path: filepath.Join("/scenes", "img/editor.png")}, m.asked[0])
	assert.Equal(t, demoreel.Template{Name: "create", Path: "/abs/create.png"}, m.asked[1])
}

func TestRunStopsAtTimeout(t *testing.T) {
	sc, err := Parse([]byte(`
steps:
  - type: "a"
  - wait: {template: missing.png, timeout: 1s}
  - type: "b"
`), "")
	require.NoError(t, err)
	e, rec := newEngine(t, &templateMatcher{})

	err = sc.Run(context.Background(), e)
	assert.ErrorIs(t, err, demoreel.ErrTimeout)
	assert.Contains(t, err.Error(), "step 2 (wait)")

	var timeout *demoreel.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "missing", timeout.Template.Name)
	assert.Equal(t, []demoreel.ActionSpec{{Text: "a"}}, rec.actions)
}

func TestWaitDefaultsTimeout(t *testing.T) {
	sc, err := Parse([]byte("steps:\n  - wait: {template: a.png}\n"), "")
	require.NoError(t, err)
	spec := sc.waitSpec(sc.Steps[0].Wait)
	assert.Equal(t, DefaultWaitTimeout, spec.Timeout)
}

func TestValidateRejectsBadSteps(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown kind", "steps:\n  - dance: true\n", `unknown step "dance"`},
		{"two kinds", "steps:\n  - type: a\n    paragraph: true\n", "more than one action"},
		{"empty key", "steps:\n  - press: \"\"\n", "empty key"},
		{"bad modifier", "steps:\n  - press: hyper+a\n", "unknown modifier"},
		{"negative count", "steps:\n  - repeat: {count: -1, step: {press: Tab}}\n", "must not be negative"},
		{"zero rate", "steps:\n  - rate: 0\n", "must be positive"},
		{"negative rate", "steps:\n  - rate: -10\n", "must be positive"},
		{"missing template", "steps:\n  - click: {timeout: 1s}\n", "template is required"},
		{"null text", "steps:\n  - header:\n", "text is required"},
		{"nested", "steps:\n  - repeat: {count: 2, step: {rate: 0}}\n", "repeat: rate 0"},
		{"false paragraph", "steps:\n  - paragraph: false\n", "paragraph: must be true"},
		{"false find next", "steps:\n  - find_next: false\n", "find_next: must be true"},
		{"false restore rate", "steps:\n  - restore_rate: false\n", "restore_rate: must be true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryStep(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - rate: 0\n  - type: ok\n  - press: \"\"\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1:")
	assert.Contains(t, err.Error(), "step 3:")
	assert.NotContains(t, err.Error(), "step 2:")
}

func TestInvalidSceneDispatchesNothing(t *testing.T) {
	sc := &Scene{Steps: []Step{{Type: ptr("hello")}, {Rate: -1}}}
	require.Error(t, sc.Validate())
}

func TestParseCombo(t *testing.T) {
	tests := []struct {
		combo string
		want  demoreel.ActionSpec
	}{
		{"Tab", demoreel.KeyPress(demoreel.KeyTab)},
		{"ctrl+f", demoreel.KeyPress("f", demoreel.ModCtrl)},
		{"shift+ctrl+End", demoreel.KeyPress(demoreel.KeyEnd, demoreel.ModCtrl, demoreel.ModShift)},
		{" super+space ", demoreel.KeyPress(demoreel.KeySpace, demoreel.ModSuper)},
	}
	for _, tt := range tests {
		t.Run(tt.combo, func(t *testing.T) {
			got, err := ParseCombo(tt.combo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadResolvesAgainstSceneDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intro.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - click: {template: button.png}\n"), 0o644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "intro", sc.Name)
	assert.Equal(t, filepath.Join(dir, "button.png"), sc.Template("button.png", "").Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func ptr(s string) *string { return &s }
