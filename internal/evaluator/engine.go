package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/morozRed/worksheet/internal/logging"
	"github.com/morozRed/worksheet/internal/protocol"
)

type placedCell struct {
	id    protocol.CellID
	rng   protocol.Range
	fresh bool
	cell  Cell
}

// Engine turns successive full-document computes into event batches.
// Identities that survive between computes are reported as Unchanged or
// Moved; only new cells are evaluated.
type Engine struct {
	splitter Splitter
	previous []placedCell
}

func NewEngine(splitter Splitter) *Engine {
	return &Engine{splitter: splitter}
}

// Compute returns the batch for text, always terminated by Committed.
func (e *Engine) Compute(text string) ([]protocol.Event, error) {
	found, err := e.splitter.Split([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("split cells: %w", err)
	}

	known := make(map[protocol.CellID]protocol.Range, len(e.previous))
	for _, p := range e.previous {
		known[p.id] = p.rng
	}

	current := make([]placedCell, 0, len(found))
	seen := make(map[protocol.CellID]bool, len(found))
	var placements []protocol.Event
	for _, cell := range found {
		id := CellIdentity(cell.Text)
		rng := cell.Range
		prior, existed := known[id]
		switch {
		case seen[id]:
			// A repeated cell body; the front end drops the second Added.
			placements = append(placements, addedEvent(id, rng))
			continue
		case !existed:
			placements = append(placements, addedEvent(id, rng))
		case prior != rng:
			placements = append(placements, protocol.Event{Kind: protocol.KindMoved, Cell: id, Range: &rng})
		default:
			placements = append(placements, protocol.Event{Kind: protocol.KindUnchanged, Cell: id})
		}
		seen[id] = true
		current = append(current, placedCell{id: id, rng: rng, fresh: !existed, cell: cell})
	}

	events := make([]protocol.Event, 0, len(e.previous)+len(placements)+2*len(current)+1)
	for _, p := range e.previous {
		if !seen[p.id] {
			events = append(events, protocol.Event{Kind: protocol.KindRemoved, Cell: p.id})
		}
	}
	events = append(events, placements...)
	for _, p := range current {
		if !p.fresh {
			continue
		}
		events = append(events,
			protocol.Event{Kind: protocol.KindEvaluating, Cell: p.id},
			protocol.Event{Kind: protocol.KindEvaluated, Cell: p.id, Runs: check(p.cell)},
		)
	}
	events = append(events, protocol.Event{Kind: protocol.KindCommitted})

	e.previous = current
	return events, nil
}

func addedEvent(id protocol.CellID, rng protocol.Range) protocol.Event {
	return protocol.Event{Kind: protocol.KindAdded, Cell: id, Range: &rng}
}

func check(cell Cell) []protocol.Run {
	if cell.ErrorLine > 0 {
		return []protocol.Run{{Style: protocol.StyleError, Text: fmt.Sprintf("syntax error at line %d", cell.ErrorLine)}}
	}
	return []protocol.Run{{Style: protocol.StyleDefault, Text: "ok"}}
}

// Channel is the evaluator side of a session.
type Channel interface {
	ReadCompute() (protocol.Compute, error)
	SendEvent(ev protocol.Event) error
	Close() error
}

// Serve answers computes on ch until the front end closes it or ctx ends.
func Serve(ctx context.Context, ch Channel, engine *Engine, logger *slog.Logger) error {
	logger = logging.Component(logger, "evaluator")
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	for {
		compute, err := ch.ReadCompute()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read compute: %w", err)
		}
		events, err := engine.Compute(compute.Text)
		if err != nil {
			return err
		}
		logger.Debug("compute answered", "events", len(events), "bytes", len(compute.Text))
		for _, ev := range events {
			if err := ch.SendEvent(ev); err != nil {
				return fmt.Errorf("send %s: %w", ev.Kind, err)
			}
		}
	}
}
