package demoreel

import (
	"fmt"
	"strings"
	"time"
)

// Key is an X keysym name as understood by xdotool, e.g. "Return" or "F2".
type Key string

const (
	KeyReturn    Key = "Return"
	KeyTab       Key = "Tab"
	KeyEscape    Key = "Escape"
	KeyBackSpace Key = "BackSpace"
	KeyDelete    Key = "Delete"
	KeyInsert    Key = "Insert"
	KeyHome      Key = "Home"
	KeyEnd       Key = "End"
	KeyUp        Key = "Up"
	KeyDown      Key = "Down"
	KeyLeft      Key = "Left"
	KeyRight     Key = "Right"
	KeySpace     Key = "space"
	KeyF2        Key = "F2"
	KeyF3        Key = "F3"
)

// specialRunes are the control characters that Type treats as a single
// atomic key press instead of a typed character.
var specialRunes = map[rune]Key{
	'\n':   KeyReturn,
	'\t':   KeyTab,
	'\b':   KeyBackSpace,
	'\x1b': KeyEscape,
	'\x7f': KeyDelete,
}

// SpecialKey reports the key bound to a control rune.
func SpecialKey(r rune) (Key, bool) {
	k, ok := specialRunes[r]
	return k, ok
}

// Modifiers is an unordered set of modifier keys held during an action.
type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

var modifierNames = []struct {
	mod  Modifiers
	name string
}{
	{ModCtrl, "ctrl"},
	{ModShift, "shift"},
	{ModAlt, "alt"},
	{ModSuper, "super"},
}

// Has reports whether every modifier in m is set.
func (s Modifiers) Has(m Modifiers) bool {
	return s&m == m
}

// Names lists the xdotool names of the set in a fixed order.
func (s Modifiers) Names() []string {
	var names []string
	for _, n := range modifierNames {
		if s.Has(n.mod) {
			names = append(names, n.name)
		}
	}
	return names
}

func (s Modifiers) String() string {
	return strings.Join(s.Names(), "+")
}

// ParseModifier maps a modifier name ("ctrl", "control", "shift", "alt",
// "super", "meta") to its bit.
func ParseModifier(name string) (Modifiers, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ctrl", "control":
		return ModCtrl, nil
	case "shift":
		return ModShift, nil
	case "alt":
		return ModAlt, nil
	case "super", "meta", "cmd":
		return ModSuper, nil
	}
	return 0, fmt.Errorf("unknown modifier %q", name)
}

// Button is a mouse button number as used by X11.
type Button int

const (
	ButtonLeft   Button = 1
	ButtonMiddle Button = 2
	ButtonRight  Button = 3
)

// Location is a point on the screen in pixels.
type Location struct {
	X int
	Y int
}

func (l Location) String() string {
	return fmt.Sprintf("%d,%d", l.X, l.Y)
}

// ActionSpec describes one input event. Exactly one of Key, Text or Button
// is set. Build values with KeyPress, Char or Click.
type ActionSpec struct {
	Key       Key
	Text      string
	Button    Button
	At        Location
	Modifiers Modifiers
}

func KeyPress(key Key, mods ...Modifiers) ActionSpec {
	return ActionSpec{Key: key, Modifiers: combine(mods)}
}

// Char types a single character. Control runes become their special key.
func Char(r rune) ActionSpec {
	if k, ok := SpecialKey(r); ok {
		return ActionSpec{Key: k}
	}
	return ActionSpec{Text: string(r)}
}

func Click(button Button, at Location, mods ...Modifiers) ActionSpec {
	return ActionSpec{Button: button, At: at, Modifiers: combine(mods)}
}

func combine(mods []Modifiers) Modifiers {
	var m Modifiers
	for _, mod := range mods {
		m |= mod
	}
	return m
}

// IsKeyboard reports whether the action is a key press or typed character.
func (a ActionSpec) IsKeyboard() bool {
	return a.Button == 0
}

func (a ActionSpec) String() string {
	var target string
	switch {
	case a.Button != 0:
		target = fmt.Sprintf("button%d@%s", a.Button, a.At)
	case a.Text != "":
		target = fmt.Sprintf("%q", a.Text)
	default:
		target = string(a.Key)
	}
	if a.Modifiers == 0 {
		return target
	}
	return a.Modifiers.String() + "+" + target
}

// Template is an opaque reference image matched against the screen.
type Template struct {
	Name string
	Path string
}

func (t Template) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Path
}

// WaitSpec pairs a template with how long to wait for it.
type WaitSpec struct {
	Template Template
	Timeout  time.Duration
}

// Match is where a template was found. Width and Height are zero when the
// matcher does not report the template size.
type Match struct {
	Location
	Width  int
	Height int
}

// Center is the point a click on the match should land on.
func (m Match) Center() Location {
	return Location{X: m.X + m.Width/2, Y: m.Y + m.Height/2}
}
