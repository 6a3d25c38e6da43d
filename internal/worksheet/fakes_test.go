package worksheet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/morozRed/worksheet/internal/display"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/span"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeLink is an in-memory session: the reconciler reads from conn and the
// test plays the evaluator on peer.
type fakeLink struct {
	conn     *protocol.Conn
	peer     net.Conn
	enc      *protocol.Encoder
	computes chan string

	mu  sync.Mutex
	err error
}

func newFakeLink() *fakeLink {
	front, peer := net.Pipe()
	l := &fakeLink{
		conn:     protocol.NewConn(front, 0),
		peer:     peer,
		enc:      protocol.NewEncoder(peer),
		computes: make(chan string, 8),
	}
	go func() {
		dec := protocol.NewDecoder(peer)
		for {
			compute, err := dec.DecodeCompute()
			if err != nil {
				return
			}
			l.computes <- compute.Text
		}
	}()
	return l
}

func (l *fakeLink) SendCompute(text string) error {
	return l.conn.SendCompute(text)
}

func (l *fakeLink) ReadEvent() (protocol.Event, error) {
	return l.conn.ReadEvent()
}

func (l *fakeLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *fakeLink) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLink) close() {
	_ = l.conn.Close()
	_ = l.peer.Close()
}

func (l *fakeLink) send(t *testing.T, events ...protocol.Event) {
	t.Helper()
	for _, ev := range events {
		if err := l.enc.EncodeEvent(ev); err != nil {
			t.Fatalf("send %s: %v", ev, err)
		}
	}
}

func (l *fakeLink) sendRaw(body string) error {
	_, err := fmt.Fprintf(l.peer, "Content-Length: %d\r\n\r\n%s", len(body), body)
	return err
}

func (l *fakeLink) nextCompute(t *testing.T) string {
	t.Helper()
	select {
	case text := <-l.computes:
		return text
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for compute")
		return ""
	}
}

func (l *fakeLink) expectNoCompute(t *testing.T) {
	t.Helper()
	select {
	case text := <-l.computes:
		t.Fatalf("unexpected compute %q", text)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeAttacher struct {
	mu        sync.Mutex
	attachErr error
	detachErr error
	release   chan struct{}
	attaches  int
	detached  []Link
	log       *eventLog
	attached  chan *fakeLink
}

func newFakeAttacher() *fakeAttacher {
	return &fakeAttacher{attached: make(chan *fakeLink, 8)}
}

func (a *fakeAttacher) Attach(ctx context.Context, documentPath string) (Link, error) {
	a.mu.Lock()
	a.attaches++
	err := a.attachErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	link := newFakeLink()
	a.attached <- link
	return link, nil
}

func (a *fakeAttacher) Detach(link Link) error {
	a.mu.Lock()
	release := a.release
	a.mu.Unlock()
	if release != nil {
		<-release
	}
	a.mu.Lock()
	a.detached = append(a.detached, link)
	err := a.detachErr
	a.mu.Unlock()
	a.log.add("detach")
	link.(*fakeLink).close()
	return err
}

// holdDetach blocks Detach until the returned func is called.
func (a *fakeAttacher) holdDetach() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.release = gate
	a.mu.Unlock()
	return sync.OnceFunc(func() { close(gate) })
}

func (a *fakeAttacher) setAttachErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attachErr = err
}

func (a *fakeAttacher) attachCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attaches
}

func (a *fakeAttacher) detachedLinks() []Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Link(nil), a.detached...)
}

func (a *fakeAttacher) next(t *testing.T) *fakeLink {
	t.Helper()
	select {
	case link := <-a.attached:
		return link
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for attach")
		return nil
	}
}

type recordingSurface struct {
	mu         sync.Mutex
	directives []display.Directive
	busy       []bool
	notices    []error
	fail       func(display.Directive) error
	log        *eventLog
}

func (s *recordingSurface) Apply(d display.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directives = append(s.directives, d)
	if d.Op == display.OpRemove {
		s.log.add("remove:" + d.Cell.String())
	}
	if s.fail != nil {
		return s.fail(d)
	}
	return nil
}

func (s *recordingSurface) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = append(s.busy, busy)
}

func (s *recordingSurface) Notify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, err)
}

func (s *recordingSurface) setFail(fn func(display.Directive) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *recordingSurface) notifications() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.notices...)
}

func (s *recordingSurface) recorded() []display.Directive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]display.Directive(nil), s.directives...)
}

func (s *recordingSurface) busyStates() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.busy...)
}

// trackingDocument records when its edit subscription is released.
type trackingDocument struct {
	*BufferDocument
	log *eventLog
}

func (d trackingDocument) OnChanged(fn func(*span.Snapshot)) func() {
	unsubscribe := d.BufferDocument.OnChanged(fn)
	return func() {
		d.log.add("unsubscribe")
		unsubscribe()
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cellID(id string) protocol.CellID {
	return protocol.NewCellID(id)
}

func added(id string, fromLine, toLine int) protocol.Event {
	r := protocol.Range{FromLine: fromLine, ToLine: toLine}
	return protocol.Event{Kind: protocol.KindAdded, Cell: cellID(id), Range: &r}
}

func moved(id string, fromLine, toLine int) protocol.Event {
	r := protocol.Range{FromLine: fromLine, ToLine: toLine}
	return protocol.Event{Kind: protocol.KindMoved, Cell: cellID(id), Range: &r}
}

func removed(id string) protocol.Event {
	return protocol.Event{Kind: protocol.KindRemoved, Cell: cellID(id)}
}

func unchanged(id string) protocol.Event {
	return protocol.Event{Kind: protocol.KindUnchanged, Cell: cellID(id)}
}

func evaluating(id string) protocol.Event {
	return protocol.Event{Kind: protocol.KindEvaluating, Cell: cellID(id)}
}

func evaluated(id string, style protocol.Style, text string) protocol.Event {
	return protocol.Event{Kind: protocol.KindEvaluated, Cell: cellID(id), Runs: []protocol.Run{{Style: style, Text: text}}}
}

func committed() protocol.Event {
	return protocol.Event{Kind: protocol.KindCommitted}
}

type harness struct {
	r        *Reconciler
	buf      *span.Buffer
	surface  *recordingSurface
	attacher *fakeAttacher
	log      *eventLog
}

func newHarness(t *testing.T, text string) *harness {
	t.Helper()
	log := &eventLog{}
	buf := span.NewBuffer(text)
	doc := trackingDocument{BufferDocument: NewBufferDocument("/work/a.fsx", buf), log: log}
	surface := &recordingSurface{log: log}
	attacher := newFakeAttacher()
	attacher.log = log
	r := New(doc, surface, attacher, Options{})
	r.Start(context.Background())
	t.Cleanup(func() { _ = r.Close() })
	return &harness{r: r, buf: buf, surface: surface, attacher: attacher, log: log}
}

func (h *harness) cellCount() int {
	return len(h.r.Snapshot().Cells)
}

var errSurface = errors.New("surface rejected directive")
