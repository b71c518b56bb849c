// Package scene runs replay steps read from a YAML file.
//
//	name: rename-demo
//	steps:
//	  - wait: {template: editor.png, timeout: 10s}
//	  - header: Renaming
//	  - find: parseConfig
//	  - rename: loadConfig
//	  - press: ctrl+s
//	  - repeat: {count: 3, step: {press: Down}}
//	  - pause: 1.5s
package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/replay"
)

// DefaultWaitTimeout applies to wait and click steps that leave timeout out.
const DefaultWaitTimeout = 10 * time.Second

type Scene struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`

	// Dir is where relative template paths are resolved.
	Dir string `yaml:"-"`
}

// Step holds exactly one action. The YAML key names the kind.
type Step struct {
	Type        *string       `yaml:"type,omitempty"`
	TypeLine    *string       `yaml:"typeln,omitempty"`
	Press       string        `yaml:"press,omitempty"`
	Repeat      *RepeatStep   `yaml:"repeat,omitempty"`
	Pause       time.Duration `yaml:"pause,omitempty"`
	Rate        float64       `yaml:"rate,omitempty"`
	RestoreRate bool          `yaml:"restore_rate,omitempty"`
	Wait        *WaitStep     `yaml:"wait,omitempty"`
	Click       *WaitStep     `yaml:"click,omitempty"`
	Paragraph   bool          `yaml:"paragraph,omitempty"`
	Header      *string       `yaml:"header,omitempty"`
	Find        *string       `yaml:"find,omitempty"`
	FindNext    bool          `yaml:"find_next,omitempty"`
	Rename      *string       `yaml:"rename,omitempty"`

	// set records which keys were present so that "rate: 0" is caught
	// instead of being read as no step at all.
	set []string
}

type RepeatStep struct {
	Count int  `yaml:"count"`
	Step  Step `yaml:"step"`
}

type WaitStep struct {
	Template string        `yaml:"template"`
	Name     string        `yaml:"name,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		s.set = append(s.set, node.Content[i].Value)
	}
	type plain Step
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	set := s.set
	*s = Step(p)
	s.set = set
	return nil
}

// Kind is the single key the step was written with, or "" for a step built
// in code with nothing set.
func (s Step) Kind() string {
	if len(s.set) == 1 {
		return s.set[0]
	}
	if len(s.set) > 1 {
		return strings.Join(s.set, ",")
	}
	var kinds []string
	add := func(ok bool, kind string) {
		if ok {
			kinds = append(kinds, kind)
		}
	}
	add(s.Type != nil, "type")
	add(s.TypeLine != nil, "typeln")
	add(s.Press != "", "press")
	add(s.Repeat != nil, "repeat")
	add(s.Pause != 0, "pause")
	add(s.Rate != 0, "rate")
	add(s.RestoreRate, "restore_rate")
	add(s.Wait != nil, "wait")
	add(s.Click != nil, "click")
	add(s.Paragraph, "paragraph")
	add(s.Header != nil, "header")
	add(s.Find != nil, "find")
	add(s.FindNext, "find_next")
	add(s.Rename != nil, "rename")
	return strings.Join(kinds, ",")
}

// Load reads and validates a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene: %w", err)
	}
	sc, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

func Parse(data []byte, dir string) (*Scene, error) {
	var sc Scene
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	sc.Dir = dir
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step so that a broken scene fails before the first
// key is pressed.
func (sc *Scene) Validate() error {
	var errs []string
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("step %d: %s", i+1, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid scene: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s Step) validate() error {
	kind := s.Kind()
	switch kind {
	case "":
		return fmt.Errorf("empty step")
	case "press":
		_, err := ParseCombo(s.Press)
		return err
	case "repeat":
		if s.Repeat == nil {
			return fmt.Errorf("repeat: count and step are required")
		}
		if s.Repeat.Count < 0 {
			return fmt.Errorf("repeat count %d: %w", s.Repeat.Count, demoreel.ErrInvalidCount)
		}
		if err := s.Repeat.Step.validate(); err != nil {
			return fmt.Errorf("repeat: %w", err)
		}
	case "pause":
		if s.Pause < 0 {
			return fmt.Errorf("negative pause %s", s.Pause)
		}
	case "rate":
		if !(s.Rate > 0) {
			return fmt.Errorf("rate %v: %w", s.Rate, demoreel.ErrInvalidRate)
		}
	case "wait", "click":
		w := s.Wait
		if kind == "click" {
			w = s.Click
		}
		if w == nil || w.Template == "" {
			return fmt.Errorf("%s: template is required", kind)
		}
		if w.Timeout < 0 {
			return fmt.Errorf("%s: negative timeout %s", kind, w.Timeout)
		}
	case "type", "typeln", "header", "find", "rename":
		if s.text() == nil {
			return fmt.Errorf("%s: text is required", kind)
		}
	case "restore_rate", "paragraph", "find_next":
		if !s.RestoreRate && !s.Paragraph && !s.FindNext {
			return fmt.Errorf("%s: must be true", kind)
		}
	default:
		if strings.Contains(kind, ",") {
			return fmt.Errorf("more than one action in one step: %s", kind)
		}
		return fmt.Errorf("unknown step %q", kind)
	}
	return nil
}

func (s Step) text() *string {
	for _, t := range []*string{s.Type, s.TypeLine, s.Header, s.Find, s.Rename} {
		if t != nil {
			return t
		}
	}
	return nil
}

// ParseCombo reads a key combination such as "ctrl+shift+Right". The last
// element is the key; everything before it is a modifier.
func ParseCombo(combo string) (demoreel.ActionSpec, error) {
	parts := strings.Split(strings.TrimSpace(combo), "+")
	key := parts[len(parts)-1]
	if key == "" {
		return demoreel.ActionSpec{}, fmt.Errorf("press %q: empty key", combo)
	}
	var mods []demoreel.Modifiers
	for _, p := range parts[:len(parts)-1] {
		m, err := demoreel.ParseModifier(p)
		if err != nil {
			return demoreel.ActionSpec{}, fmt.Errorf("press %q: %w", combo, err)
		}
		mods = append(mods, m)
	}
	return demoreel.KeyPress(demoreel.Key(key), mods...), nil
}

// Run executes the steps in order and stops at the first failure.
func (sc *Scene) Run(ctx context.Context, e *replay.Engine) error {
	ctx = logger.WithValue(ctx, "scene", sc.Name)
	logger.Infof(ctx, "running %d steps", len(sc.Steps))
	for i, step := range sc.Steps {
		stepCtx := logger.WithValue(ctx, "step", i+1)
		logger.Debugf(stepCtx, "%s", step.Kind())
		if err := sc.run(stepCtx, e, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
	}
	logger.Infof(ctx, "scene complete")
	return nil
}

func (sc *Scene) run(ctx context.Context, e *replay.Engine, s Step) error {
	switch s.Kind() {
	case "type":
		return e.Type(ctx, *s.Type)
	case "typeln":
		return e.TypeLine(ctx, *s.TypeLine)
	case "press":
		action, err := ParseCombo(s.Press)
		if err != nil {
			return err
		}
		return e.Press(ctx, action)
	case "repeat":
		return e.Repeat(ctx, s.Repeat.Count, func(ctx context.Context) error {
			return sc.run(ctx, e, s.Repeat.Step)
		})
	case "pause":
		return e.Pause(ctx, s.Pause)
	case "rate":
		return e.SetRate(ctx, s.Rate)
	case "restore_rate":
		e.RestoreDefaultRate(ctx)
		return nil
	case "wait":
		_, err := e.WaitFor(ctx, sc.waitSpec(s.Wait))
		return err
	case "click":
		return e.ClickTemplate(ctx, sc.waitSpec(s.Click))
	case "paragraph":
		return e.Paragraph(ctx)
	case "header":
		return e.Header(ctx, *s.Header)
	case "find":
		return e.EditFind(ctx, *s.Find)
	case "find_next":
		return e.EditFindNext(ctx)
	case "rename":
		return e.RenameDefinition(ctx, *s.Rename)
	}
	return fmt.Errorf("unknown step %q", s.Kind())
}

func (sc *Scene) waitSpec(w *WaitStep) demoreel.WaitSpec {
	return demoreel.WaitSpec{
		Template: sc.Template(w.Template, w.Name),
		Timeout:  orDefault(w.Timeout, DefaultWaitTimeout),
	}
}

// Template resolves a template path against the scene directory. The name
// defaults to the file name without its extension.
func (sc *Scene) Template(path, name string) demoreel.Template {
	if !filepath.IsAbs(path) && sc.Dir != "" {
		path = filepath.Join(sc.Dir, path)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return demoreel.Template{Name: name, Path: path}
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
