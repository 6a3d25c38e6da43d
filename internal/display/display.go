// Package display maps cell state to rendering directives and provides a
// terminal surface that applies them.
package display

import (
	"fmt"

	"github.com/morozRed/worksheet/internal/cells"
	"github.com/morozRed/worksheet/internal/protocol"
)

type Op int

const (
	OpAdd Op = iota
	OpMove
	OpRemove
	OpRecolor
	OpReplaceContent
)

var opNames = [...]string{"add", "move", "remove", "recolor", "replace-content"}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opNames[o]
}

// Color is a hex color understood by the terminal renderer. The empty
// color means "none" for borders and "default" for text.
type Color string

const (
	BorderNone       Color = ""
	BorderIdle       Color = "#ADD8E6" // light blue
	BorderEvaluating Color = "#98FB98" // pale green
	BorderEvaluated  Color = "#D3D3D3" // light gray

	ColorDefault   Color = ""
	ColorDarkGreen Color = "#006400"
	ColorDarkCyan  Color = "#008B8B"
	ColorGray      Color = "#808080"
	ColorDarkRed   Color = "#8B0000"
)

// Directive is one instruction to the rendering surface. Start and End
// are offsets resolved against the current document snapshot.
type Directive struct {
	Op     Op
	Cell   protocol.CellID
	Start  int
	End    int
	ZIndex int
	Border Color
	Runs   []protocol.Run
}

func (d Directive) String() string {
	return fmt.Sprintf("%s %s [%d,%d)", d.Op, d.Cell, d.Start, d.End)
}

// Surface renders cell adornments. Apply must not block on I/O for long;
// a returned error hides the cell until it is repositioned.
type Surface interface {
	Apply(d Directive) error
	SetBusy(busy bool)
	Notify(err error)
}

func BorderFor(state cells.State) Color {
	switch state {
	case cells.Idle:
		return BorderIdle
	case cells.Evaluating:
		return BorderEvaluating
	case cells.Evaluated:
		return BorderEvaluated
	default:
		return BorderNone
	}
}

func ColorFor(style protocol.Style) Color {
	switch style {
	case protocol.StyleEmphasis:
		return ColorDarkGreen
	case protocol.StyleInfo:
		return ColorDarkCyan
	case protocol.StyleOutput:
		return ColorGray
	case protocol.StyleError:
		return ColorDarkRed
	default:
		return ColorDefault
	}
}

// Place builds the Add or Move directive for v at the given resolved span.
func Place(op Op, v *cells.View, start, end int) Directive {
	d := Directive{
		Op:     op,
		Cell:   v.ID,
		Start:  start,
		End:    end,
		ZIndex: start,
		Border: BorderFor(v.Display()),
	}
	if v.State == cells.Evaluated {
		d.Runs = append([]protocol.Run(nil), v.Runs...)
	}
	return d
}

func Remove(id protocol.CellID) Directive {
	return Directive{Op: OpRemove, Cell: id}
}

func Recolor(v *cells.View) Directive {
	return Directive{Op: OpRecolor, Cell: v.ID, Border: BorderFor(v.Display())}
}

func ReplaceContent(v *cells.View) Directive {
	return Directive{
		Op:     OpReplaceContent,
		Cell:   v.ID,
		Border: BorderFor(v.Display()),
		Runs:   append([]protocol.Run(nil), v.Runs...),
	}
}
