package cells

import (
	"errors"
	"fmt"
	"sort"

	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/span"
)

// ErrDuplicateIdentity is returned by Insert when the identity is already
// present. A move is modelled as remove-then-insert or View.MoveTo.
var ErrDuplicateIdentity = errors.New("duplicate cell identity")

// State is the display state of a cell.
type State int

const (
	Idle State = iota
	Evaluating
	Evaluated
	Hidden
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Evaluated:
		return "evaluated"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// View is the renderable projection of one cell.
type View struct {
	ID     protocol.CellID
	Region span.Region
	State  State
	Runs   []protocol.Run // content when State is Evaluated
	Hidden bool           // set when drawing failed; cleared by the next reposition
}

func NewView(id protocol.CellID, r protocol.Range, snap *span.Snapshot) *View {
	return &View{ID: id, Region: span.ToRegion(r, snap), State: Idle}
}

// Display is the state shown to the user. Visibility is kept apart from the
// evaluation state so a reposition never loses the cell's result.
func (v *View) Display() State {
	if v.Hidden {
		return Hidden
	}
	return v.State
}

// MoveTo re-derives the region from r against snap and makes the view
// visible again. The evaluation state is preserved.
func (v *View) MoveTo(r protocol.Range, snap *span.Snapshot) {
	v.Region = span.ToRegion(r, snap)
	v.Hidden = false
}

func (v *View) SetEvaluating() {
	v.State = Evaluating
}

func (v *View) SetEvaluated(runs []protocol.Run) {
	v.State = Evaluated
	v.Runs = append([]protocol.Run(nil), runs...)
}

// Text returns the plain concatenation of the cell's output runs.
func (v *View) Text() string {
	return protocol.RunsText(v.Runs)
}

// Store maps cell identity to its view. It is not safe for concurrent use;
// the reconciler owns it from a single goroutine.
type Store struct {
	views map[protocol.CellID]*View
}

func NewStore() *Store {
	return &Store{views: make(map[protocol.CellID]*View)}
}

// Insert adds a view. It fails with ErrDuplicateIdentity if the identity is
// already present.
func (s *Store) Insert(v *View) error {
	if v == nil || v.ID.IsZero() {
		return errors.New("cell view requires an identity")
	}
	if _, exists := s.views[v.ID]; exists {
		return wserrors.DuplicateIdentity(fmt.Errorf("%w: %s", ErrDuplicateIdentity, v.ID))
	}
	s.views[v.ID] = v
	return nil
}

// Remove deletes a view. Removing an absent identity is a no-op.
func (s *Store) Remove(id protocol.CellID) (*View, bool) {
	v, ok := s.views[id]
	if !ok {
		return nil, false
	}
	delete(s.views, id)
	return v, true
}

func (s *Store) Get(id protocol.CellID) (*View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Values returns every view in no particular order.
func (s *Store) Values() []*View {
	out := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	return out
}

func (s *Store) Len() int {
	return len(s.views)
}

// Clear empties the store and returns what it held.
func (s *Store) Clear() []*View {
	out := s.Values()
	s.views = make(map[protocol.CellID]*View)
	return out
}

// Ordered returns the views sorted by their resolved start on current,
// which is also their z-order.
func (s *Store) Ordered(current *span.Snapshot) []*View {
	type placed struct {
		view  *View
		start int
	}
	items := make([]placed, 0, len(s.views))
	for _, v := range s.views {
		start, _ := v.Region.Resolve(current)
		items = append(items, placed{view: v, start: start})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].start != items[j].start {
			return items[i].start < items[j].start
		}
		return items[i].view.ID.String() < items[j].view.ID.String()
	})
	out := make([]*View, 0, len(items))
	for _, item := range items {
		out = append(out, item.view)
	}
	return out
}
