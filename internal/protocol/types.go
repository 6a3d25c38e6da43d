package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the lifecycle transition carried by an inbound event.
type Kind int

const (
	KindUnchanged Kind = iota
	KindAdded
	KindMoved
	KindRemoved
	KindEvaluating
	KindEvaluated
	KindCommitted
)

var kindNames = [...]string{
	KindUnchanged:  "Unchanged",
	KindAdded:      "Added",
	KindMoved:      "Moved",
	KindRemoved:    "Removed",
	KindEvaluating: "Evaluating",
	KindEvaluated:  "Evaluated",
	KindCommitted:  "Committed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func ParseKind(raw string) (Kind, error) {
	for i, name := range kindNames {
		if name == raw {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", raw)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Style tags an output run. Evaluation failures inside a cell arrive as
// ordinary runs tagged StyleError.
type Style int

const (
	StyleDefault Style = iota
	StyleEmphasis
	StyleError
	StyleInfo
	StyleOutput
)

var styleNames = [...]string{
	StyleDefault:  "Default",
	StyleEmphasis: "Emphasis",
	StyleError:    "Error",
	StyleInfo:     "Info",
	StyleOutput:   "Output",
}

func (s Style) String() string {
	if s < 0 || int(s) >= len(styleNames) {
		return "unknown"
	}
	return styleNames[s]
}

func ParseStyle(raw string) (Style, error) {
	for i, name := range styleNames {
		if name == raw {
			return Style(i), nil
		}
	}
	return 0, fmt.Errorf("unknown run style %q", raw)
}

func (s Style) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(styleNames) {
		return nil, fmt.Errorf("unknown run style %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Style) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStyle(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CellID is the opaque identity of a cell. Two events with equal ids refer
// to the same cell even when its position changed. The zero value is not a
// valid identity.
type CellID struct {
	hash string
}

// NewCellID wraps an evaluator-produced hash. Only evaluators and the
// decoder create ids; the front end never derives one from cell content.
func NewCellID(hash string) CellID {
	return CellID{hash: strings.TrimSpace(hash)}
}

func (id CellID) String() string {
	return id.hash
}

func (id CellID) IsZero() bool {
	return id.hash == ""
}

func (id CellID) Equal(other CellID) bool {
	return id.hash == other.hash
}

func (id CellID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.hash)
}

func (id *CellID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*id = NewCellID(raw)
	return nil
}

// Range is a cell location in document coordinates at the time the event
// was produced. Lines and columns are 0-based; columns count runes.
type Range struct {
	FromLine int `json:"fromLine"`
	FromCol  int `json:"fromCol"`
	ToLine   int `json:"toLine"`
	ToCol    int `json:"toCol"`
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]-[%d,%d]", r.FromLine, r.FromCol, r.ToLine, r.ToCol)
}

// Run is one styled piece of cell output.
type Run struct {
	Style Style  `json:"style"`
	Text  string `json:"text"`
}

// RunsText concatenates the text of runs, ignoring styles.
func RunsText(runs []Run) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.Text)
	}
	return b.String()
}

// Event is one inbound frame of the evaluator's change stream.
type Event struct {
	Kind  Kind
	Cell  CellID
	Range *Range
	Runs  []Run
}

func (e Event) String() string {
	switch e.Kind {
	case KindCommitted:
		return e.Kind.String()
	case KindAdded, KindMoved:
		if e.Range != nil {
			return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Cell, e.Range)
		}
	case KindEvaluated:
		return fmt.Sprintf("%s(%s, %d runs)", e.Kind, e.Cell, len(e.Runs))
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Cell)
}

// Compute asks the evaluator to re-parse and re-evaluate the whole document.
type Compute struct {
	Text string
}

type wireEvent struct {
	Kind  Kind    `json:"kind"`
	Cell  *CellID `json:"cellId,omitempty"`
	Range *Range  `json:"range,omitempty"`
	Runs  *[]Run  `json:"runs,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	wire := wireEvent{Kind: e.Kind}
	if e.Kind != KindCommitted {
		cell := e.Cell
		wire.Cell = &cell
	}
	if e.Kind == KindAdded || e.Kind == KindMoved {
		wire.Range = e.Range
	}
	if e.Kind == KindEvaluated {
		runs := e.Runs
		if runs == nil {
			runs = []Run{}
		}
		wire.Runs = &runs
	}
	return json.Marshal(wire)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{Kind: wire.Kind, Range: wire.Range}
	if wire.Cell != nil {
		e.Cell = *wire.Cell
	}
	if wire.Runs != nil {
		e.Runs = *wire.Runs
	}
	return nil
}

type wireCompute struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

const computeKind = "Compute"
