// Package span tracks cell locations across document edits.
//
// A Buffer is a minimal versioned text model: every edit produces a new
// immutable Snapshot and records the Change that led to it, so a Region
// anchored to an older snapshot can be re-projected onto any later one.
package span

import (
	"errors"
	"sort"
	"sync"
	"unicode/utf8"
)

var (
	// ErrInvalidPosition indicates an edit outside the document.
	ErrInvalidPosition = errors.New("position out of bounds")
)

// Change records one replace edit: OldLen bytes at Offset were replaced by
// NewLen bytes.
type Change struct {
	Offset int
	OldLen int
	NewLen int
}

func (c Change) delta() int {
	return c.NewLen - c.OldLen
}

// Snapshot is an immutable view of a buffer at one version.
type Snapshot struct {
	buf        *Buffer
	version    int
	text       string
	lineStarts []int
}

func newSnapshot(buf *Buffer, version int, text string) *Snapshot {
	return &Snapshot{buf: buf, version: version, text: text, lineStarts: lineOffsets(text)}
}

func (s *Snapshot) Version() int {
	return s.version
}

func (s *Snapshot) Text() string {
	return s.text
}

func (s *Snapshot) Len() int {
	return len(s.text)
}

func (s *Snapshot) LineCount() int {
	return len(s.lineStarts)
}

// LineStart returns the byte offset of the first byte of line, clamped to
// the document.
func (s *Snapshot) LineStart(line int) int {
	if line <= 0 {
		return 0
	}
	if line >= len(s.lineStarts) {
		return len(s.text)
	}
	return s.lineStarts[line]
}

// lineEnd returns the offset of the line terminator (or end of text).
func (s *Snapshot) lineEnd(line int) int {
	if line+1 < len(s.lineStarts) {
		end := s.lineStarts[line+1] - 1
		if end > 0 && s.text[end-1] == '\r' {
			end--
		}
		return end
	}
	return len(s.text)
}

// Offset converts a 0-based line and rune column to a byte offset. Lines
// past the end clamp to the end of the text; columns past the end of a line
// clamp to the line end.
func (s *Snapshot) Offset(line, col int) int {
	if line >= len(s.lineStarts) {
		return len(s.text)
	}
	start := s.LineStart(line)
	end := s.lineEnd(line)
	offset := start
	for col > 0 && offset < end {
		_, size := utf8.DecodeRuneInString(s.text[offset:end])
		offset += size
		col--
	}
	return offset
}

// Position converts a byte offset back to a 0-based line and rune column.
func (s *Snapshot) Position(offset int) (line, col int) {
	offset = clamp(offset, 0, len(s.text))
	line = sort.Search(len(s.lineStarts), func(i int) bool { return s.lineStarts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return line, utf8.RuneCountInString(s.text[s.lineStarts[line]:offset])
}

// Buffer is the mutable document model. It is safe for concurrent use;
// change listeners run synchronously on the editing goroutine.
type Buffer struct {
	mu        sync.Mutex
	current   *Snapshot
	changes   []Change // changes[i] takes version i to version i+1
	listeners map[int]func(*Snapshot)
	nextID    int
}

func NewBuffer(text string) *Buffer {
	b := &Buffer{listeners: make(map[int]func(*Snapshot))}
	b.current = newSnapshot(b, 0, text)
	return b
}

func (b *Buffer) Snapshot() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Replace replaces length bytes at offset with text and returns the new
// snapshot.
func (b *Buffer) Replace(offset, length int, text string) (*Snapshot, error) {
	b.mu.Lock()
	cur := b.current
	if offset < 0 || length < 0 || offset+length > len(cur.text) {
		b.mu.Unlock()
		return nil, ErrInvalidPosition
	}
	next := cur.text[:offset] + text + cur.text[offset+length:]
	snap := b.commitLocked(Change{Offset: offset, OldLen: length, NewLen: len(text)}, next)
	listeners := b.listenersLocked()
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

// Insert inserts text at offset.
func (b *Buffer) Insert(offset int, text string) (*Snapshot, error) {
	return b.Replace(offset, 0, text)
}

// Delete removes length bytes at offset.
func (b *Buffer) Delete(offset, length int) (*Snapshot, error) {
	return b.Replace(offset, length, "")
}

// SetText replaces the whole content with text, recorded as the smallest
// single replace covering the differing middle so regions outside it keep
// tracking. It returns the current snapshot unchanged when text is equal.
func (b *Buffer) SetText(text string) *Snapshot {
	cur := b.Snapshot()
	if cur.text == text {
		return cur
	}
	prefix := commonPrefix(cur.text, text)
	suffix := commonSuffix(cur.text[prefix:], text[prefix:])
	snap, err := b.Replace(prefix, len(cur.text)-prefix-suffix, text[prefix:len(text)-suffix])
	if err != nil {
		// Another writer raced this one; fall back to a whole-text replace.
		cur = b.Snapshot()
		snap, _ = b.Replace(0, len(cur.text), text)
	}
	return snap
}

// OnChanged registers fn to run after every edit. The returned function
// removes the registration and is safe to call more than once.
func (b *Buffer) OnChanged(fn func(*Snapshot)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Buffer) commitLocked(c Change, text string) *Snapshot {
	b.changes = append(b.changes, c)
	b.current = newSnapshot(b, b.current.version+1, text)
	return b.current
}

func (b *Buffer) listenersLocked() []func(*Snapshot) {
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(*Snapshot), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.listeners[id])
	}
	return out
}

// changesBetween returns the edits that take version from to version to.
func (b *Buffer) changesBetween(from, to int) []Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < 0 || to > len(b.changes) || from >= to {
		return nil
	}
	return append([]Change(nil), b.changes[from:to]...)
}

// lineOffsets returns the byte offset at which each line starts. "\r\n"
// counts as one terminator.
func lineOffsets(text string) []int {
	offs := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offs = append(offs, i+1)
		}
	}
	return offs
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	for i > 0 && i < len(a) && !utf8.RuneStart(a[i]) {
		i--
	}
	return i
}

func commonSuffix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	for i > 0 && i < len(a) && !utf8.RuneStart(a[len(a)-i]) {
		i--
	}
	return i
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
