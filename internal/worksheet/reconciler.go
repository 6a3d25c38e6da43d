// Package worksheet reconciles an evaluator's cell events against a live
// document and drives the display surface.
package worksheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morozRed/worksheet/internal/cells"
	"github.com/morozRed/worksheet/internal/display"
	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/logging"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/span"
)

type Options struct {
	Logger *slog.Logger
	// ComputeOnAttach sends a compute as soon as the first session attaches.
	ComputeOnAttach bool
}

// Reconciler owns the cell store and session of one document. All state
// below the queue is touched only by the worker goroutine.
type Reconciler struct {
	doc      Document
	surface  display.Surface
	attacher Attacher
	logger   *slog.Logger
	opts     Options

	queue  *taskQueue
	exited chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error

	store       *cells.Store
	link        Link
	generation  uint64
	attaching   bool
	inFlight    bool
	pending     bool
	unsubscribe func()
	closed      bool
	edits       int
}

func New(doc Document, surface display.Surface, attacher Attacher, opts Options) *Reconciler {
	return &Reconciler{
		doc:      doc,
		surface:  surface,
		attacher: attacher,
		logger:   logging.Component(opts.Logger, "reconciler").With(slog.String("document", doc.Path())),
		opts:     opts,
		queue:    newTaskQueue(),
		exited:   make(chan struct{}),
		store:    cells.NewStore(),
	}
}

// Start runs the worker, subscribes to document edits, and begins
// attaching a session in the background.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(ctx)
		r.queue.start()
		go r.run()
		r.post(func() {
			if r.closed {
				return
			}
			r.unsubscribe = r.doc.OnChanged(func(snap *span.Snapshot) {
				r.post(func() { r.onEdited(snap) })
			})
			r.pending = r.opts.ComputeOnAttach
			r.beginAttach()
		})
	})
}

func (r *Reconciler) run() {
	defer close(r.exited)
	for range r.queue.signal {
		tasks, closed := r.queue.drain()
		for _, task := range tasks {
			task()
		}
		if closed {
			return
		}
	}
}

func (r *Reconciler) post(fn func()) bool {
	return r.queue.push(fn)
}

// call runs fn on the worker and waits for it. Without a running worker
// fn runs inline.
func (r *Reconciler) call(fn func()) {
	done := make(chan struct{})
	if !r.post(func() {
		defer close(done)
		fn()
	}) {
		fn()
		return
	}
	<-done
}

// OnDocumentSaved requests a compute of the whole document. An unattached
// reconciler re-attempts the attach first.
func (r *Reconciler) OnDocumentSaved() {
	r.post(r.requestCompute)
}

// OnViewportChanged re-issues positions for every visible cell.
func (r *Reconciler) OnViewportChanged() {
	r.post(r.relayout)
}

// OnDocumentClosed tears the worksheet down.
func (r *Reconciler) OnDocumentClosed() error {
	return r.Close()
}

// Close unsubscribes from the document, stops reading events, detaches
// the session, and clears the cells, in that order. Every step runs even
// if an earlier one fails.
func (r *Reconciler) Close() error {
	r.closeOnce.Do(func() {
		r.call(func() { r.closeErr = r.teardown() })
		r.queue.close()
		started := r.cancel != nil
		if started {
			<-r.exited
		}
		r.wg.Wait()
	})
	return r.closeErr
}

func (r *Reconciler) teardown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = false

	var errs []error
	errs = appendErr(errs, runStep("unsubscribe document", func() error {
		if r.unsubscribe != nil {
			r.unsubscribe()
			r.unsubscribe = nil
		}
		return nil
	}))

	link := r.link
	errs = appendErr(errs, runStep("stop reading events", func() error {
		r.generation++
		r.link = nil
		if r.cancel != nil {
			r.cancel()
		}
		return nil
	}))

	errs = appendErr(errs, runStep("detach session", func() error {
		if link == nil {
			return nil
		}
		return r.attacher.Detach(link)
	}))

	errs = appendErr(errs, runStep("clear cells", func() error {
		if r.inFlight {
			r.inFlight = false
			r.surface.SetBusy(false)
		}
		return r.clearCells()
	}))

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Warn("teardown incomplete", "err", err)
	} else {
		r.logger.Debug("teardown complete")
	}
	return err
}

func (r *Reconciler) beginAttach() {
	if r.closed || r.attaching || r.link != nil {
		return
	}
	r.attaching = true
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		link, err := r.attacher.Attach(ctx, r.doc.Path())
		if r.post(func() { r.onAttached(link, err) }) {
			return
		}
		if link != nil {
			_ = r.attacher.Detach(link)
		}
	}()
}

func (r *Reconciler) onAttached(link Link, err error) {
	r.attaching = false
	if r.closed {
		if link != nil {
			_ = r.attacher.Detach(link)
		}
		return
	}
	if err != nil {
		r.pending = false
		r.logger.Warn("attach failed", "err", err, "code", wserrors.CodeOf(err))
		r.surface.Notify(err)
		return
	}

	r.link = link
	r.generation++
	generation := r.generation
	r.logger.Debug("session attached", "generation", generation)

	r.wg.Add(1)
	go r.read(link, generation)

	if r.pending {
		r.pending = false
		r.requestCompute()
	}
}

// read pumps events from link onto the worker until the channel fails or
// the reconciler stops accepting work.
func (r *Reconciler) read(link Link, generation uint64) {
	defer r.wg.Done()
	for {
		ev, err := link.ReadEvent()
		if err != nil {
			r.post(func() { r.onChannelFailed(generation, link, err) })
			return
		}
		if !r.post(func() { r.apply(generation, ev) }) {
			return
		}
	}
}

func (r *Reconciler) requestCompute() {
	if r.closed {
		return
	}
	if r.link == nil {
		r.pending = true
		r.beginAttach()
		return
	}
	if r.inFlight {
		r.logger.Debug("compute already in flight; save ignored")
		return
	}

	r.inFlight = true
	r.surface.SetBusy(true)
	link := r.link
	generation := r.generation
	text := r.doc.Snapshot().Text()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := link.SendCompute(text); err != nil {
			r.post(func() {
				r.onChannelFailed(generation, link, wserrors.SessionLost(fmt.Errorf("send compute: %w", err), "send_failed"))
			})
		}
	}()
}

func (r *Reconciler) onEdited(snap *span.Snapshot) {
	r.edits++
	r.logger.Debug("document edited", "version", snap.Version())
}

// apply folds one event into the store and issues its directives.
func (r *Reconciler) apply(generation uint64, ev protocol.Event) {
	if generation != r.generation || r.closed {
		r.logger.Debug("dropped event from stale session", "event", ev.String())
		return
	}

	switch ev.Kind {
	case protocol.KindUnchanged:
	case protocol.KindAdded:
		if ev.Range == nil {
			r.logger.Warn("added event without range", "cell", ev.Cell.String())
			return
		}
		view := cells.NewView(ev.Cell, *ev.Range, r.doc.Snapshot())
		if err := r.store.Insert(view); err != nil {
			r.logger.Warn("dropped added cell", "cell", ev.Cell.String(), "category", string(wserrors.CategoryOf(err)), "err", err)
			return
		}
		r.place(display.OpAdd, view)
	case protocol.KindMoved:
		view, ok := r.store.Get(ev.Cell)
		if !ok || ev.Range == nil {
			r.logger.Debug("moved event for unknown cell", "cell", ev.Cell.String())
			return
		}
		view.MoveTo(*ev.Range, r.doc.Snapshot())
		r.place(display.OpMove, view)
	case protocol.KindRemoved:
		if _, ok := r.store.Remove(ev.Cell); ok {
			r.remove(ev.Cell)
		}
	case protocol.KindEvaluating:
		view, ok := r.store.Get(ev.Cell)
		if !ok {
			return
		}
		view.SetEvaluating()
		r.issue(view, display.Recolor(view))
	case protocol.KindEvaluated:
		view, ok := r.store.Get(ev.Cell)
		if !ok {
			return
		}
		view.SetEvaluated(ev.Runs)
		r.issue(view, display.ReplaceContent(view))
		r.issue(view, display.Recolor(view))
	case protocol.KindCommitted:
		r.commit()
	}
}

func (r *Reconciler) commit() {
	snap := r.doc.Snapshot()
	for _, view := range r.store.Ordered(snap) {
		if view.Hidden {
			continue
		}
		if r.removeOrphan(view, snap) {
			continue
		}
		r.remove(view.ID)
		r.place(display.OpAdd, view)
	}
	if r.inFlight {
		r.inFlight = false
		r.surface.SetBusy(false)
	}
	r.logger.Debug("batch committed", "cells", r.store.Len())
}

func (r *Reconciler) relayout() {
	if r.closed {
		return
	}
	snap := r.doc.Snapshot()
	for _, view := range r.store.Ordered(snap) {
		if r.removeOrphan(view, snap) || view.Hidden {
			continue
		}
		r.place(display.OpMove, view)
	}
}

// place resolves the view against the current snapshot and issues an Add
// or Move. An orphaned view is removed instead.
func (r *Reconciler) place(op display.Op, view *cells.View) {
	snap := r.doc.Snapshot()
	if r.removeOrphan(view, snap) {
		return
	}
	start, end := view.Region.Resolve(snap)
	r.issue(view, display.Place(op, view, start, end))
}

func (r *Reconciler) issue(view *cells.View, d display.Directive) {
	if view.Hidden {
		return
	}
	if err := r.surface.Apply(d); err != nil {
		view.Hidden = true
		r.logger.Warn("directive failed; cell hidden", "directive", d.String(), "err", err)
	}
}

func (r *Reconciler) remove(id protocol.CellID) {
	if err := r.surface.Apply(display.Remove(id)); err != nil {
		r.logger.Warn("remove directive failed", "cell", id.String(), "err", err)
	}
}

func (r *Reconciler) removeOrphan(view *cells.View, snap *span.Snapshot) bool {
	if !view.Region.Orphaned(snap) {
		return false
	}
	r.store.Remove(view.ID)
	r.remove(view.ID)
	r.logger.Debug("removed orphaned cell", "cell", view.ID.String())
	return true
}

func (r *Reconciler) clearCells() error {
	var errs []error
	for _, view := range r.store.Clear() {
		if err := r.surface.Apply(display.Remove(view.ID)); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", view.ID, err))
		}
	}
	return errors.Join(errs...)
}

// onChannelFailed tears down the session behind link. A protocol error
// keeps the cells already applied; a lost session clears them.
func (r *Reconciler) onChannelFailed(generation uint64, link Link, err error) {
	if generation != r.generation || r.closed || r.link == nil {
		return
	}
	err = classifyChannelError(link, err)

	r.generation++
	r.link = nil
	r.detachAsync(link)
	if r.inFlight {
		r.inFlight = false
		r.surface.SetBusy(false)
	}
	r.logger.Warn("session torn down", "category", string(wserrors.CategoryOf(err)), "err", err)
	r.surface.Notify(err)

	if wserrors.IsSessionLost(err) {
		if clearErr := r.clearCells(); clearErr != nil {
			r.logger.Warn("clearing cells failed", "err", clearErr)
		}
	}
}

// detachAsync stops the session behind link off the worker; stopping the
// evaluator can take up to two grace periods.
func (r *Reconciler) detachAsync(link Link) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.attacher.Detach(link); err != nil {
			r.logger.Warn("session teardown failed", "err", err)
		}
	}()
}

func classifyChannelError(link Link, err error) error {
	if lost := link.Err(); lost != nil {
		return lost
	}
	if wserrors.IsProtocol(err) || wserrors.IsSessionLost(err) {
		return err
	}
	return wserrors.SessionLost(fmt.Errorf("event channel closed: %w", err), "channel_closed")
}

func runStep(name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", name, p)
		}
	}()
	if stepErr := fn(); stepErr != nil {
		return fmt.Errorf("%s: %w", name, stepErr)
	}
	return nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
