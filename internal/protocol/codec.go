package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	wserrors "github.com/morozRed/worksheet/internal/errors"
)

const contentLengthHeader = "content-length"

// FrameCeiling bounds Content-Length even when no MaxFrameBytes is set.
const FrameCeiling int64 = 1 << 31

// Framing errors
var (
	// ErrMissingLength indicates a frame header without a Content-Length.
	ErrMissingLength = errors.New("frame header has no content-length")

	// ErrFrameTooLarge indicates a frame body above the configured bound.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrTruncatedFrame indicates the channel closed in the middle of a frame.
	ErrTruncatedFrame = errors.New("channel closed mid-frame")
)

// Encoder writes Content-Length framed JSON messages.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) encode(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.Write(body)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(b.Bytes())
	return err
}

// EncodeCompute writes one outbound compute request carrying the full text.
func (e *Encoder) EncodeCompute(c Compute) error {
	return e.encode(wireCompute{Kind: computeKind, Text: c.Text})
}

// EncodeEvent writes one change event (evaluator side).
func (e *Encoder) EncodeEvent(ev Event) error {
	return e.encode(ev)
}

// Decoder reads Content-Length framed JSON messages. A MaxFrameBytes of zero
// means frames are unbounded.
type Decoder struct {
	r             *bufio.Reader
	MaxFrameBytes int64
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// readFrame returns io.EOF only when the channel closed cleanly between
// frames.
func (d *Decoder) readFrame() ([]byte, error) {
	contentLen := int64(-1)
	first := true
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if first && line == "" {
					return nil, io.EOF
				}
				return nil, ErrTruncatedFrame
			}
			return nil, err
		}
		first = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, wserrors.Protocol(fmt.Errorf("malformed header line %q", line), "bad_header")
		}
		if strings.ToLower(strings.TrimSpace(key)) != contentLengthHeader {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return nil, wserrors.Protocol(fmt.Errorf("invalid content-length %q", value), "bad_header")
		}
		contentLen = n
	}
	if contentLen < 0 {
		return nil, wserrors.Protocol(ErrMissingLength, "bad_header")
	}
	limit := FrameCeiling
	if d.MaxFrameBytes > 0 && d.MaxFrameBytes < limit {
		limit = d.MaxFrameBytes
	}
	if contentLen > limit {
		return nil, wserrors.Protocol(fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, contentLen, limit), "frame_too_large")
	}
	// The body buffer grows with the bytes that actually arrive.
	var body bytes.Buffer
	if _, err := io.CopyN(&body, d.r, contentLen); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	return body.Bytes(), nil
}

// DecodeEvent reads and validates one inbound event. Framing, JSON and
// schema failures are classified as protocol errors. A clean close returns
// io.EOF; a close mid-frame returns ErrTruncatedFrame.
func (d *Decoder) DecodeEvent() (Event, error) {
	body, err := d.readFrame()
	if err != nil {
		return Event{}, err
	}
	if err := validateFrame(eventSchema, body); err != nil {
		return Event{}, wserrors.Protocol(err, "invalid_event")
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, wserrors.Protocol(fmt.Errorf("decode event: %w", err), "invalid_event")
	}
	return ev, nil
}

// DecodeCompute reads one compute request (evaluator side).
func (d *Decoder) DecodeCompute() (Compute, error) {
	body, err := d.readFrame()
	if err != nil {
		return Compute{}, err
	}
	if err := validateFrame(computeSchema, body); err != nil {
		return Compute{}, wserrors.Protocol(err, "invalid_compute")
	}
	var wire wireCompute
	if err := json.Unmarshal(body, &wire); err != nil {
		return Compute{}, wserrors.Protocol(fmt.Errorf("decode compute: %w", err), "invalid_compute")
	}
	return Compute{Text: wire.Text}, nil
}

// Conn is the bidirectional channel abstraction shared by the front end
// and the evaluator. Sends are serialized; reads must come from a single
// goroutine.
type Conn struct {
	rwc       io.ReadWriteCloser
	enc       *Encoder
	dec       *Decoder
	closeOnce sync.Once
	closeErr  error
}

func NewConn(rwc io.ReadWriteCloser, maxFrameBytes int64) *Conn {
	dec := NewDecoder(rwc)
	dec.MaxFrameBytes = maxFrameBytes
	return &Conn{rwc: rwc, enc: NewEncoder(rwc), dec: dec}
}

func (c *Conn) SendCompute(text string) error {
	return c.enc.EncodeCompute(Compute{Text: text})
}

func (c *Conn) ReadEvent() (Event, error) {
	return c.dec.DecodeEvent()
}

func (c *Conn) SendEvent(ev Event) error {
	return c.enc.EncodeEvent(ev)
}

func (c *Conn) ReadCompute() (Compute, error) {
	return c.dec.DecodeCompute()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
