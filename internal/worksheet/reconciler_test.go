package worksheet

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/morozRed/worksheet/internal/cells"
	"github.com/morozRed/worksheet/internal/display"
	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/span"
)

const twoCellScript = "let a = 1\nprintfn \"%d\" a;;\nlet b = 2\nfailwith \"boom\";;\n"

func TestTwoCellBatch(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	h.r.OnDocumentSaved()
	if got := link.nextCompute(t); got != twoCellScript {
		t.Fatalf("expected full document text in compute, got %q", got)
	}

	link.send(t,
		added("1", 0, 2),
		added("2", 2, 4),
		evaluating("1"),
		evaluated("1", protocol.StyleDefault, "ok"),
		evaluating("2"),
		evaluated("2", protocol.StyleError, "boom"),
		committed(),
	)
	eventually(t, "batch commit", func() bool {
		state := h.r.Snapshot()
		return !state.InFlight && len(state.Cells) == 2 && state.Cells[1].Display == cells.Evaluated
	})

	state := h.r.Snapshot()
	first, ok := state.Cell(cellID("1"))
	if !ok || first.Display != cells.Evaluated || first.Text() != "ok" || first.Runs[0].Style != protocol.StyleDefault {
		t.Fatalf("unexpected first cell %#v", first)
	}
	second, ok := state.Cell(cellID("2"))
	if !ok || second.Display != cells.Evaluated || second.Text() != "boom" || second.Runs[0].Style != protocol.StyleError {
		t.Fatalf("unexpected second cell %#v", second)
	}
	if first.Start != 0 || first.End != strings.Index(twoCellScript, "let b") || second.End != len(twoCellScript) {
		t.Fatalf("unexpected regions first=[%d,%d) second=[%d,%d)", first.Start, first.End, second.Start, second.End)
	}

	busy := h.surface.busyStates()
	if len(busy) != 2 || !busy[0] || busy[1] {
		t.Fatalf("expected busy on then off, got %v", busy)
	}
	if notices := h.surface.notifications(); len(notices) != 0 {
		t.Fatalf("expected no notifications, got %v", notices)
	}

	directives := h.surface.recorded()
	last := directives[len(directives)-1]
	if last.Op != display.OpAdd || last.Cell != cellID("2") || last.Border != display.BorderEvaluated || last.Runs[0].Text != "boom" {
		t.Fatalf("expected commit to re-lay the last cell, got %#v", last)
	}
}

func TestAddedMovedRemovedMembership(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.send(t, added("x", 0, 2))
	eventually(t, "added cell", func() bool { return h.cellCount() == 1 })

	link.send(t, evaluated("x", protocol.StyleOutput, "1"), unchanged("x"))
	eventually(t, "evaluated cell", func() bool {
		cell, ok := h.r.Snapshot().Cell(cellID("x"))
		return ok && cell.Display == cells.Evaluated
	})
	before, _ := h.r.Snapshot().Cell(cellID("x"))

	link.send(t, moved("x", 2, 4))
	eventually(t, "moved cell", func() bool {
		cell, _ := h.r.Snapshot().Cell(cellID("x"))
		return cell.Start != before.Start
	})
	after, ok := h.r.Snapshot().Cell(cellID("x"))
	if !ok || after.Display != cells.Evaluated || after.Text() != "1" {
		t.Fatalf("expected move to preserve display state, got %#v", after)
	}
	if after.Start != strings.Index(twoCellScript, "let b") {
		t.Fatalf("expected region replaced, got start %d", after.Start)
	}

	link.send(t, removed("x"))
	eventually(t, "removed cell", func() bool { return h.cellCount() == 0 })

	removes := 0
	for _, d := range h.surface.recorded() {
		if d.Op == display.OpRemove {
			removes++
		}
	}
	link.send(t, removed("x"), removed("never-added"), added("y", 0, 2))
	eventually(t, "next added cell", func() bool { return h.cellCount() == 1 })
	for _, d := range h.surface.recorded() {
		if d.Op == display.OpRemove {
			removes--
		}
	}
	if removes != 0 {
		t.Fatalf("removing absent identities must not issue directives")
	}
}

func TestDuplicateAddedIsDroppedAndBatchContinues(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.send(t, added("dup", 0, 2), added("dup", 2, 4), added("next", 2, 4), committed())
	eventually(t, "both cells", func() bool { return h.cellCount() == 2 })

	dup, _ := h.r.Snapshot().Cell(cellID("dup"))
	if dup.Start != 0 {
		t.Fatalf("expected first insert to win, got start %d", dup.Start)
	}
	if notices := h.surface.notifications(); len(notices) != 0 {
		t.Fatalf("duplicate identity must not be surfaced, got %v", notices)
	}
}

func TestMalformedFrameMidBatchKeepsAppliedCells(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	h.r.OnDocumentSaved()
	link.nextCompute(t)
	link.send(t, added("1", 0, 2))
	eventually(t, "added cell", func() bool { return h.cellCount() == 1 })

	if err := link.sendRaw(`{"kind":"Exploded","cellId":"1"}`); err != nil {
		t.Fatalf("send malformed frame: %v", err)
	}
	go func() {
		_ = link.enc.EncodeEvent(added("2", 2, 4))
		_ = link.enc.EncodeEvent(committed())
	}()

	eventually(t, "notification", func() bool { return len(h.surface.notifications()) > 0 })
	state := h.r.Snapshot()
	if state.Attached {
		t.Fatalf("expected session torn down")
	}
	if _, ok := state.Cell(cellID("1")); !ok || len(state.Cells) != 1 {
		t.Fatalf("expected only the applied cell to remain, got %#v", state.Cells)
	}
	if state.InFlight {
		t.Fatalf("expected compute to be cleared")
	}
	notices := h.surface.notifications()
	if len(notices) != 1 || !wserrors.IsProtocol(notices[0]) {
		t.Fatalf("expected one ProtocolError, got %v", notices)
	}
	eventually(t, "detach", func() bool { return len(h.attacher.detachedLinks()) == 1 })
	if detached := h.attacher.detachedLinks(); detached[0] != link {
		t.Fatalf("expected the session to be detached, got %v", detached)
	}
}

func TestSlowDetachDoesNotStallTheWorker(t *testing.T) {
	h := newHarness(t, twoCellScript)
	release := h.attacher.holdDetach()
	t.Cleanup(release)
	link := h.attacher.next(t)

	link.send(t, added("1", 0, 2))
	eventually(t, "added cell", func() bool { return h.cellCount() == 1 })
	_ = link.peer.Close()
	eventually(t, "notification", func() bool { return len(h.surface.notifications()) > 0 })

	snapshots := make(chan State, 1)
	go func() { snapshots <- h.r.Snapshot() }()
	select {
	case state := <-snapshots:
		if state.Attached || len(state.Cells) != 0 {
			t.Fatalf("expected the lost session to be reset, got %#v", state)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker blocked behind the session detach")
	}
	if len(h.attacher.detachedLinks()) != 0 {
		t.Fatalf("expected detach to still be pending")
	}

	release()
	eventually(t, "detach", func() bool { return len(h.attacher.detachedLinks()) == 1 })
}

func TestChannelClosedWithoutCommitClearsStore(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.send(t, added("1", 0, 2), added("2", 2, 4))
	eventually(t, "added cells", func() bool { return h.cellCount() == 2 })
	_ = link.peer.Close()

	eventually(t, "notification", func() bool { return len(h.surface.notifications()) > 0 })
	state := h.r.Snapshot()
	if len(state.Cells) != 0 || state.Attached {
		t.Fatalf("expected store cleared and session gone, got %#v", state)
	}
	notices := h.surface.notifications()
	if len(notices) != 1 || !wserrors.IsSessionLost(notices[0]) {
		t.Fatalf("expected one SessionLost, got %v", notices)
	}

	removed := map[string]bool{}
	for _, d := range h.surface.recorded() {
		if d.Op == display.OpRemove {
			removed[d.Cell.String()] = true
		}
	}
	if !removed["1"] || !removed["2"] {
		t.Fatalf("expected remove directives for every cell, got %v", removed)
	}
}

func TestProcessExitUsesSessionError(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.setErr(wserrors.SessionLost(errors.New("exit status 3"), "process_exited"))
	_ = link.peer.Close()

	eventually(t, "notification", func() bool { return len(h.surface.notifications()) > 0 })
	if code := wserrors.CodeOf(h.surface.notifications()[0]); code != "process_exited" {
		t.Fatalf("expected process_exited, got %q", code)
	}
}

func TestSaveWhileComputeInFlightIsIgnored(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	h.r.OnDocumentSaved()
	link.nextCompute(t)
	h.r.OnDocumentSaved()
	h.r.Snapshot()
	link.expectNoCompute(t)

	link.send(t, committed())
	eventually(t, "commit", func() bool { return !h.r.Snapshot().InFlight })

	h.r.OnDocumentSaved()
	link.nextCompute(t)
}

func TestEditsTrackSpansWithoutCompute(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.send(t, added("2", 2, 4))
	eventually(t, "added cell", func() bool { return h.cellCount() == 1 })
	before, _ := h.r.Snapshot().Cell(cellID("2"))

	if _, err := h.buf.Insert(0, "// header\n"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	eventually(t, "edit", func() bool { return h.r.Snapshot().Edits == 1 })
	link.expectNoCompute(t)

	after, _ := h.r.Snapshot().Cell(cellID("2"))
	if after.Start != before.Start+len("// header\n") || after.End != before.End+len("// header\n") {
		t.Fatalf("expected span to follow the edit, before=%#v after=%#v", before, after)
	}
}

func TestViewportChangeRemovesOrphansAndMovesTheRest(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)

	link.send(t, added("1", 0, 2), added("2", 2, 4), committed())
	eventually(t, "added cells", func() bool { return h.cellCount() == 2 })

	cut := strings.Index(twoCellScript, "let b")
	if _, err := h.buf.Delete(0, cut); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mark := len(h.surface.recorded())
	h.r.OnViewportChanged()
	eventually(t, "orphan removal", func() bool { return h.cellCount() == 1 })

	var sawRemove, sawMove bool
	for _, d := range h.surface.recorded()[mark:] {
		switch {
		case d.Op == display.OpRemove && d.Cell == cellID("1"):
			sawRemove = true
		case d.Op == display.OpMove && d.Cell == cellID("2"):
			sawMove = d.Start == 0 && d.End == len(twoCellScript)-cut
		}
	}
	if !sawRemove || !sawMove {
		t.Fatalf("expected remove of orphan and move of survivor, got %v", h.surface.recorded()[mark:])
	}
}

func TestDirectiveFailureHidesCellUntilMoved(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)
	h.surface.setFail(func(d display.Directive) error {
		if d.Op == display.OpAdd {
			return errSurface
		}
		return nil
	})

	link.send(t, added("1", 0, 2), evaluated("1", protocol.StyleDefault, "ok"))
	eventually(t, "evaluated cell", func() bool {
		cell, ok := h.r.Snapshot().Cell(cellID("1"))
		return ok && len(cell.Runs) == 1
	})
	cell, _ := h.r.Snapshot().Cell(cellID("1"))
	if cell.Display != cells.Hidden {
		t.Fatalf("expected hidden cell, got %s", cell.Display)
	}
	for _, d := range h.surface.recorded() {
		if d.Op == display.OpReplaceContent {
			t.Fatalf("hidden cells must not receive directives")
		}
	}

	link.send(t, moved("1", 0, 2))
	eventually(t, "visible cell", func() bool {
		cell, _ := h.r.Snapshot().Cell(cellID("1"))
		return cell.Display == cells.Evaluated
	})
	if notices := h.surface.notifications(); len(notices) != 0 {
		t.Fatalf("directive failures must not be surfaced, got %v", notices)
	}
}

func TestSpawnErrorSurfacedOnceWithoutRetry(t *testing.T) {
	log := &eventLog{}
	attacher := newFakeAttacher()
	attacher.log = log
	attacher.setAttachErr(wserrors.Spawn(errors.New("no such binary"), "launch_failed"))
	surface := &recordingSurface{log: log}
	doc := trackingDocument{BufferDocument: NewBufferDocument("/work/a.fsx", span.NewBuffer(twoCellScript)), log: log}
	r := New(doc, surface, attacher, Options{ComputeOnAttach: true})
	r.Start(context.Background())
	defer r.Close()

	eventually(t, "spawn notification", func() bool { return len(surface.notifications()) == 1 })
	if !wserrors.IsSpawn(surface.notifications()[0]) {
		t.Fatalf("expected SpawnError, got %v", surface.notifications())
	}
	state := r.Snapshot()
	if state.Attached || state.Attaching || attacher.attachCount() != 1 {
		t.Fatalf("expected one failed attach and no retry, got %#v attaches=%d", state, attacher.attachCount())
	}

	attacher.setAttachErr(nil)
	r.OnDocumentSaved()
	link := attacher.next(t)
	if got := link.nextCompute(t); got != twoCellScript {
		t.Fatalf("expected compute after re-attach, got %q", got)
	}
	if len(surface.notifications()) != 1 {
		t.Fatalf("expected a single notification, got %v", surface.notifications())
	}
}

func TestCloseTearsDownInOrder(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)
	link.send(t, added("1", 0, 2), added("2", 2, 4))
	eventually(t, "added cells", func() bool { return h.cellCount() == 2 })

	h.attacher.detachErr = errors.New("terminate failed")
	err := h.r.OnDocumentClosed()
	if err == nil || !strings.Contains(err.Error(), "terminate failed") {
		t.Fatalf("expected detach failure to be reported, got %v", err)
	}

	events := h.log.snapshot()
	index := func(name string) int {
		for i, event := range events {
			if event == name {
				return i
			}
		}
		return -1
	}
	unsubscribe, detach := index("unsubscribe"), index("detach")
	removeOne, removeTwo := index("remove:1"), index("remove:2")
	if unsubscribe < 0 || detach < unsubscribe || removeOne < detach || removeTwo < detach {
		t.Fatalf("unexpected teardown order %v", events)
	}
	if state := h.r.Snapshot(); len(state.Cells) != 0 || state.Attached {
		t.Fatalf("expected empty detached state, got %#v", state)
	}

	if _, err := h.buf.Insert(0, "x"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if h.r.Snapshot().Edits != 0 {
		t.Fatalf("expected no edit notifications after close")
	}
	if err := h.r.Close(); err == nil {
		t.Fatalf("expected Close to keep reporting the teardown result")
	}
}

func TestEventsFromStaleSessionAreDiscarded(t *testing.T) {
	h := newHarness(t, twoCellScript)
	link := h.attacher.next(t)
	link.send(t, added("1", 0, 2))
	eventually(t, "added cell", func() bool { return h.cellCount() == 1 })

	h.r.call(func() {
		h.r.apply(h.r.generation-1, removed("1"))
	})
	if h.cellCount() != 1 {
		t.Fatalf("expected stale event to be dropped")
	}
}

func TestIsApplicable(t *testing.T) {
	if !IsApplicable("/work/script.fsx", nil) || !IsApplicable("notes.FSX", nil) || !IsApplicable("a.py", nil) {
		t.Fatalf("expected default script extensions to apply")
	}
	if IsApplicable("README.md", nil) || IsApplicable("Makefile", nil) {
		t.Fatalf("expected non-script documents to be inert")
	}
	if !IsApplicable("run.rb", []string{"rb"}) || IsApplicable("a.py", []string{".rb"}) {
		t.Fatalf("expected custom extension list to replace the defaults")
	}
}
