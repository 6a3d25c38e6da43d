package worksheet

import (
	"github.com/morozRed/worksheet/internal/cells"
	"github.com/morozRed/worksheet/internal/protocol"
)

// State is a point-in-time copy of a reconciler, for hosts and tests.
type State struct {
	Attached  bool
	Attaching bool
	InFlight  bool
	Edits     int
	Cells     []CellState
}

type CellState struct {
	ID      protocol.CellID
	Start   int
	End     int
	Display cells.State
	Runs    []protocol.Run
}

// Text is the plain output of the cell.
func (c CellState) Text() string {
	return protocol.RunsText(c.Runs)
}

// Cell returns the state of one cell by identity.
func (s State) Cell(id protocol.CellID) (CellState, bool) {
	for _, cell := range s.Cells {
		if cell.ID == id {
			return cell, true
		}
	}
	return CellState{}, false
}

// Snapshot copies the reconciler state, ordered by position.
func (r *Reconciler) Snapshot() State {
	var state State
	r.call(func() {
		state = State{
			Attached:  r.link != nil,
			Attaching: r.attaching,
			InFlight:  r.inFlight,
			Edits:     r.edits,
		}
		snap := r.doc.Snapshot()
		for _, view := range r.store.Ordered(snap) {
			start, end := view.Region.Resolve(snap)
			state.Cells = append(state.Cells, CellState{
				ID:      view.ID,
				Start:   start,
				End:     end,
				Display: view.Display(),
				Runs:    append([]protocol.Run(nil), view.Runs...),
			})
		}
	})
	return state
}
