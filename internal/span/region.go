package span

import "github.com/morozRed/worksheet/internal/protocol"

// Region is an edge-inclusive offset span anchored to the snapshot it was
// created from. Text inserted exactly at either edge becomes part of the
// region, so output appended at a cell's end stays attached to that cell.
type Region struct {
	snap  *Snapshot
	start int
	end   int
}

// ToRegion converts an evaluator range to a region anchored to snap.
func ToRegion(r protocol.Range, snap *Snapshot) Region {
	if snap == nil {
		return Region{}
	}
	start := snap.Offset(r.FromLine, r.FromCol)
	end := snap.Offset(r.ToLine, r.ToCol)
	if end < start {
		end = start
	}
	return Region{snap: snap, start: start, end: end}
}

// NewRegion anchors a raw offset span to snap.
func NewRegion(snap *Snapshot, start, end int) Region {
	if snap == nil {
		return Region{}
	}
	start = clamp(start, 0, snap.Len())
	end = clamp(end, start, snap.Len())
	return Region{snap: snap, start: start, end: end}
}

func (r Region) Snapshot() *Snapshot {
	return r.snap
}

// Start and End are the offsets in the anchoring snapshot.
func (r Region) Start() int {
	return r.start
}

func (r Region) End() int {
	return r.end
}

func (r Region) IsZero() bool {
	return r.snap == nil
}

// Resolve re-projects the region onto current. It never fails: a region
// whose text was deleted resolves to an empty span at the deletion point,
// and a snapshot the region cannot be traced to yields the anchored
// offsets clamped to current.
func (r Region) Resolve(current *Snapshot) (start, end int) {
	if r.snap == nil || current == nil {
		return 0, 0
	}
	if current.buf != r.snap.buf || current.version < r.snap.version {
		s := clamp(r.start, 0, current.Len())
		return s, clamp(r.end, s, current.Len())
	}
	start, end = r.start, r.end
	for _, c := range r.snap.buf.changesBetween(r.snap.version, current.version) {
		start = trackLeading(start, c)
		end = trackTrailing(end, c)
		if end < start {
			end = start
		}
	}
	return start, end
}

// Orphaned reports whether a non-empty region collapsed to nothing on
// current, meaning the cell's text is gone.
func (r Region) Orphaned(current *Snapshot) bool {
	if r.snap == nil || r.start == r.end {
		return false
	}
	start, end := r.Resolve(current)
	return start == end
}

// trackLeading moves a start edge: insertions at the edge land after it.
func trackLeading(pos int, c Change) int {
	switch {
	case pos <= c.Offset:
		return pos
	case pos >= c.Offset+c.OldLen:
		return pos + c.delta()
	default:
		return c.Offset
	}
}

// trackTrailing moves an end edge: insertions at the edge land before it.
func trackTrailing(pos int, c Change) int {
	switch {
	case pos < c.Offset:
		return pos
	case pos >= c.Offset+c.OldLen:
		return pos + c.delta()
	default:
		return c.Offset + c.NewLen
	}
}
