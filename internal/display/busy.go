package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type busyIndicator struct {
	w       io.Writer
	enabled bool
	label   string
	start   time.Time
	spinner int
	lastLen int
}

func newBusyIndicator(w io.Writer, label string) *busyIndicator {
	enabled := false
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		enabled = err == nil && (stat.Mode()&os.ModeCharDevice) != 0
	}
	return &busyIndicator{w: w, enabled: enabled, label: label}
}

func (b *busyIndicator) Begin() {
	b.start = time.Now()
	b.spinner = 0
	b.Tick()
}

func (b *busyIndicator) Tick() {
	if !b.enabled {
		return
	}
	frames := [4]string{"-", "\\", "|", "/"}
	frame := frames[b.spinner%len(frames)]
	b.spinner++
	elapsed := time.Since(b.start).Round(100 * time.Millisecond)
	b.printStatus(fmt.Sprintf("%s %s (%s)", frame, b.label, elapsed))
}

func (b *busyIndicator) Done() {
	if !b.enabled {
		return
	}
	elapsed := time.Since(b.start).Round(time.Millisecond)
	b.printStatus(fmt.Sprintf("%s complete in %s", b.label, elapsed))
	fmt.Fprintln(b.w)
	b.lastLen = 0
}

func (b *busyIndicator) printStatus(status string) {
	if b.lastLen > len(status) {
		status = status + strings.Repeat(" ", b.lastLen-len(status))
	}
	b.lastLen = len(status)
	fmt.Fprintf(b.w, "\r%s", status)
}
