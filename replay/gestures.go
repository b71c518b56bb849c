package replay

import (
	"context"
	"time"

	"github.com/slcjordan/demoreel"
)

// Settle times are the minimum waits after gestures whose completion the
// application does not signal. They are approximations: if the editor is
// slower than this, the rest of the scene drifts.
const (
	ParagraphSettle   = 1500 * time.Millisecond
	RenameSettle      = 500 * time.Millisecond
	FindSettle        = 250 * time.Millisecond
	FindDismissSettle = 500 * time.Millisecond
	FindNextSettle    = 500 * time.Millisecond
	ClickSettle       = 500 * time.Millisecond
)

func (e *Engine) key(ctx context.Context, k demoreel.Key, mods ...demoreel.Modifiers) error {
	return e.Press(ctx, demoreel.KeyPress(k, mods...))
}

func (e *Engine) Tab(ctx context.Context) error       { return e.key(ctx, demoreel.KeyTab) }
func (e *Engine) Enter(ctx context.Context) error     { return e.key(ctx, demoreel.KeyReturn) }
func (e *Engine) Esc(ctx context.Context) error       { return e.key(ctx, demoreel.KeyEscape) }
func (e *Engine) Down(ctx context.Context) error      { return e.key(ctx, demoreel.KeyDown) }
func (e *Engine) Up(ctx context.Context) error        { return e.key(ctx, demoreel.KeyUp) }
func (e *Engine) Home(ctx context.Context) error      { return e.key(ctx, demoreel.KeyHome) }
func (e *Engine) End(ctx context.Context) error       { return e.key(ctx, demoreel.KeyEnd) }
func (e *Engine) Insert(ctx context.Context) error    { return e.key(ctx, demoreel.KeyInsert) }
func (e *Engine) Delete(ctx context.Context) error    { return e.key(ctx, demoreel.KeyDelete) }
func (e *Engine) Backspace(ctx context.Context) error { return e.key(ctx, demoreel.KeyBackSpace) }
func (e *Engine) F2(ctx context.Context) error        { return e.key(ctx, demoreel.KeyF2) }
func (e *Engine) F3(ctx context.Context) error        { return e.key(ctx, demoreel.KeyF3) }

// Autoinsert triggers completion in the editor.
func (e *Engine) Autoinsert(ctx context.Context) error {
	return e.key(ctx, demoreel.KeySpace, demoreel.ModCtrl)
}

func (e *Engine) SkipRight(ctx context.Context) error {
	return e.key(ctx, demoreel.KeyRight, demoreel.ModCtrl)
}

func (e *Engine) SelectWordRight(ctx context.Context) error {
	return e.key(ctx, demoreel.KeyRight, demoreel.ModCtrl, demoreel.ModShift)
}

func (e *Engine) JumpToEnd(ctx context.Context) error {
	return e.key(ctx, demoreel.KeyEnd, demoreel.ModCtrl)
}

// Paragraph ends the current paragraph with a blank line.
func (e *Engine) Paragraph(ctx context.Context) error {
	if err := e.Repeat(ctx, 2, e.Enter); err != nil {
		return err
	}
	return e.Pause(ctx, ParagraphSettle)
}

// Header writes a markdown heading followed by a paragraph break.
func (e *Engine) Header(ctx context.Context, text string) error {
	if err := e.Type(ctx, "# "+text); err != nil {
		return err
	}
	return e.Paragraph(ctx)
}

func (e *Engine) TypeLine(ctx context.Context, text string) error {
	if err := e.Type(ctx, text); err != nil {
		return err
	}
	return e.Enter(ctx)
}

// RenameDefinition renames the symbol under the cursor.
func (e *Engine) RenameDefinition(ctx context.Context, text string) error {
	return e.sequence(ctx,
		e.F2,
		func(ctx context.Context) error { return e.Type(ctx, text) },
		e.Enter,
		e.pause(RenameSettle),
	)
}

// EditFind searches for text and dismisses the find bar, leaving the cursor
// on the first hit.
func (e *Engine) EditFind(ctx context.Context, text string) error {
	return e.sequence(ctx,
		func(ctx context.Context) error { return e.hotkey(ctx, demoreel.KeyPress("f", demoreel.ModCtrl)) },
		func(ctx context.Context) error { return e.Type(ctx, text) },
		e.Enter,
		e.pause(FindSettle),
		e.Esc,
		e.pause(FindDismissSettle),
	)
}

func (e *Engine) EditFindNext(ctx context.Context) error {
	return e.sequence(ctx, e.F3, e.pause(FindNextSettle))
}

// Click moves the pointer and clicks without waiting for anything first.
func (e *Engine) Click(ctx context.Context, button demoreel.Button, at demoreel.Location, mods ...demoreel.Modifiers) error {
	return e.Press(ctx, demoreel.Click(button, at, mods...))
}

// ClickTemplate waits for the template and left-clicks its centre.
func (e *Engine) ClickTemplate(ctx context.Context, spec demoreel.WaitSpec) error {
	m, err := e.WaitFor(ctx, spec)
	if err != nil {
		return err
	}
	if err := e.Click(ctx, demoreel.ButtonLeft, m.Center()); err != nil {
		return err
	}
	return e.Pause(ctx, ClickSettle)
}

func (e *Engine) pause(d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error { return e.Pause(ctx, d) }
}

func (e *Engine) sequence(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}
