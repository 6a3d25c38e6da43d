package display

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/protocol"
)

var ErrOutsideDocument = errors.New("cell region lies outside the document")

type adornment struct {
	start  int
	end    int
	z      int
	border Color
	runs   []protocol.Run
}

// Terminal is a Surface that renders the document with an output box
// after every cell. It redraws when a compute finishes or on Render.
type Terminal struct {
	out      io.Writer
	text     func() string
	renderer *lipgloss.Renderer
	busy     *busyIndicator

	mu         sync.Mutex
	adornments map[protocol.CellID]*adornment
	stopTicker chan struct{}
}

// NewTerminal renders to out. text returns the current document contents.
func NewTerminal(out io.Writer, text func() string) *Terminal {
	return &Terminal{
		out:        out,
		text:       text,
		renderer:   lipgloss.NewRenderer(out),
		busy:       newBusyIndicator(out, "evaluating"),
		adornments: make(map[protocol.CellID]*adornment),
	}
}

func (t *Terminal) Apply(d Directive) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch d.Op {
	case OpAdd, OpMove:
		if d.Start < 0 || d.End < d.Start || d.End > len(t.text()) {
			return fmt.Errorf("%w: %s", ErrOutsideDocument, d)
		}
		a := t.adornments[d.Cell]
		if a == nil {
			a = &adornment{}
			t.adornments[d.Cell] = a
		}
		a.start, a.end, a.z, a.border = d.Start, d.End, d.ZIndex, d.Border
		if d.Op == OpAdd || d.Runs != nil {
			a.runs = d.Runs
		}
	case OpRemove:
		delete(t.adornments, d.Cell)
	case OpRecolor:
		a, ok := t.adornments[d.Cell]
		if !ok {
			return fmt.Errorf("recolor unknown cell %s", d.Cell)
		}
		a.border = d.Border
	case OpReplaceContent:
		a, ok := t.adornments[d.Cell]
		if !ok {
			return fmt.Errorf("replace content of unknown cell %s", d.Cell)
		}
		a.runs = d.Runs
		if d.Border != BorderNone {
			a.border = d.Border
		}
	default:
		return fmt.Errorf("unsupported directive %s", d.Op)
	}
	return nil
}

func (t *Terminal) SetBusy(busy bool) {
	t.mu.Lock()
	if busy {
		if t.stopTicker == nil {
			t.busy.Begin()
			t.stopTicker = make(chan struct{})
			go t.tick(t.stopTicker)
		}
		t.mu.Unlock()
		return
	}
	if t.stopTicker != nil {
		close(t.stopTicker)
		t.stopTicker = nil
		t.busy.Done()
	}
	t.mu.Unlock()
	t.Render()
}

func (t *Terminal) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			select {
			case <-stop:
			default:
				t.busy.Tick()
			}
			t.mu.Unlock()
		}
	}
}

func (t *Terminal) Notify(err error) {
	if err == nil {
		return
	}
	style := t.renderer.NewStyle().Foreground(lipgloss.Color(ColorDarkRed)).Bold(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, style.Render("worksheet: "+err.Error()))
	if hint := wserrors.HintOf(err); hint != "" {
		fmt.Fprintln(t.out, t.renderer.NewStyle().Foreground(lipgloss.Color(ColorGray)).Render("  "+hint))
	}
}

// Render writes the document followed, after each cell's last line, by
// that cell's output box.
func (t *Terminal) Render() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, t.renderLocked())
}

func (t *Terminal) renderLocked() string {
	text := t.text()
	ordered := make([]*adornment, 0, len(t.adornments))
	for _, a := range t.adornments {
		ordered = append(ordered, a)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].end != ordered[j].end {
			return ordered[i].end < ordered[j].end
		}
		return ordered[i].z < ordered[j].z
	})

	var b strings.Builder
	next := 0
	for offset := 0; offset < len(text); {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += offset + 1
		}
		b.WriteString(text[offset:lineEnd])
		if !strings.HasSuffix(text[offset:lineEnd], "\n") {
			b.WriteByte('\n')
		}
		for next < len(ordered) && ordered[next].end <= lineEnd {
			b.WriteString(t.box(ordered[next]))
			b.WriteByte('\n')
			next++
		}
		offset = lineEnd
	}
	for ; next < len(ordered); next++ {
		b.WriteString(t.box(ordered[next]))
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Terminal) box(a *adornment) string {
	style := t.renderer.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if a.border != BorderNone {
		style = style.BorderForeground(lipgloss.Color(a.border))
	}
	if len(a.runs) == 0 {
		return style.Render(" ")
	}
	parts := make([]string, 0, len(a.runs))
	for _, run := range a.runs {
		runStyle := t.renderer.NewStyle()
		if color := ColorFor(run.Style); color != ColorDefault {
			runStyle = runStyle.Foreground(lipgloss.Color(color))
		}
		parts = append(parts, runStyle.Render(run.Text))
	}
	return style.Render(strings.Join(parts, ""))
}
