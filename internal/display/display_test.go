package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/morozRed/worksheet/internal/cells"
	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/span"
)

func TestBorderAndColorMapping(t *testing.T) {
	borders := map[cells.State]Color{
		cells.Idle:       BorderIdle,
		cells.Evaluating: BorderEvaluating,
		cells.Evaluated:  BorderEvaluated,
		cells.Hidden:     BorderNone,
	}
	for state, want := range borders {
		if got := BorderFor(state); got != want {
			t.Fatalf("BorderFor(%s) = %q, want %q", state, got, want)
		}
	}

	colors := map[protocol.Style]Color{
		protocol.StyleDefault:  ColorDefault,
		protocol.StyleEmphasis: ColorDarkGreen,
		protocol.StyleInfo:     ColorDarkCyan,
		protocol.StyleOutput:   ColorGray,
		protocol.StyleError:    ColorDarkRed,
	}
	for style, want := range colors {
		if got := ColorFor(style); got != want {
			t.Fatalf("ColorFor(%s) = %q, want %q", style, got, want)
		}
	}
}

func TestPlaceCarriesRunsOnlyWhenEvaluated(t *testing.T) {
	snap := span.NewBuffer("x = 1\n").Snapshot()
	v := cells.NewView(protocol.NewCellID("c"), protocol.Range{ToLine: 1}, snap)

	d := Place(OpAdd, v, 0, 6)
	if d.Runs != nil || d.Border != BorderIdle || d.ZIndex != 0 {
		t.Fatalf("unexpected idle directive %#v", d)
	}

	v.SetEvaluated([]protocol.Run{{Style: protocol.StyleOutput, Text: "1"}})
	d = Place(OpMove, v, 0, 6)
	if len(d.Runs) != 1 || d.Border != BorderEvaluated || d.Op != OpMove {
		t.Fatalf("unexpected evaluated directive %#v", d)
	}
	d.Runs[0].Text = "mutated"
	if v.Runs[0].Text != "1" {
		t.Fatalf("directive runs must not alias the view")
	}
}

func TestTerminalRendersBoxesAfterCells(t *testing.T) {
	text := "a = 1\nb = oops\n"
	var out bytes.Buffer
	term := NewTerminal(&out, func() string { return text })

	ok := protocol.NewCellID("1")
	boom := protocol.NewCellID("2")
	apply := func(d Directive) {
		t.Helper()
		if err := term.Apply(d); err != nil {
			t.Fatalf("Apply(%s) returned error: %v", d, err)
		}
	}
	apply(Directive{Op: OpAdd, Cell: ok, Start: 0, End: 6, Border: BorderIdle})
	apply(Directive{Op: OpAdd, Cell: boom, Start: 6, End: 15, ZIndex: 6, Border: BorderIdle})
	apply(Directive{Op: OpReplaceContent, Cell: ok, Border: BorderEvaluated, Runs: []protocol.Run{{Text: "ok-output"}}})
	apply(Directive{Op: OpReplaceContent, Cell: boom, Border: BorderEvaluated, Runs: []protocol.Run{{Style: protocol.StyleError, Text: "boom-output"}}})

	term.SetBusy(true)
	term.SetBusy(false)

	rendered := out.String()
	first := strings.Index(rendered, "ok-output")
	second := strings.Index(rendered, "b = oops")
	third := strings.Index(rendered, "boom-output")
	if first < 0 || second < 0 || third < 0 || !(first < second && second < third) {
		t.Fatalf("unexpected rendering:\n%s", rendered)
	}

	out.Reset()
	apply(Directive{Op: OpRemove, Cell: ok})
	term.Render()
	if strings.Contains(out.String(), "ok-output") {
		t.Fatalf("expected removed cell box to disappear:\n%s", out.String())
	}
}

func TestTerminalRejectsInvalidDirectives(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, func() string { return "short\n" })

	err := term.Apply(Directive{Op: OpAdd, Cell: protocol.NewCellID("c"), Start: 2, End: 99})
	if !errors.Is(err, ErrOutsideDocument) {
		t.Fatalf("expected ErrOutsideDocument, got %v", err)
	}
	if err := term.Apply(Directive{Op: OpRecolor, Cell: protocol.NewCellID("missing")}); err == nil {
		t.Fatalf("expected recolor of unknown cell to fail")
	}

	term.Notify(errors.New("evaluator crashed"))
	if !strings.Contains(out.String(), "worksheet: evaluator crashed") {
		t.Fatalf("expected notification, got %q", out.String())
	}
	term.Notify(wserrors.Spawn(errors.New("exec: not found"), "launch_failed"))
	if !strings.Contains(out.String(), "check the evaluator command, then save again") {
		t.Fatalf("expected the spawn hint to be shown, got %q", out.String())
	}
}
