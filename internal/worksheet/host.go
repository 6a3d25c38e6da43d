package worksheet

import (
	"context"
	"fmt"

	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/session"
	"github.com/morozRed/worksheet/internal/span"
)

// Document is the host's editing surface for one script.
type Document interface {
	Path() string
	Snapshot() *span.Snapshot
	OnChanged(fn func(*span.Snapshot)) (unsubscribe func())
}

// BufferDocument binds a span.Buffer to a file path.
type BufferDocument struct {
	*span.Buffer
	path string
}

func NewBufferDocument(path string, buf *span.Buffer) *BufferDocument {
	return &BufferDocument{Buffer: buf, path: path}
}

func (d *BufferDocument) Path() string {
	return d.path
}

// Link is the reconciler's view of a session: only the channel, never the
// process.
type Link interface {
	SendCompute(text string) error
	ReadEvent() (protocol.Event, error)
	// Err reports why the session was lost, or nil while it is healthy.
	Err() error
}

// Attacher opens and closes sessions for a document.
type Attacher interface {
	Attach(ctx context.Context, documentPath string) (Link, error)
	Detach(link Link) error
}

// SessionAttacher adapts a session.Manager to Attacher.
func SessionAttacher(m *session.Manager) Attacher {
	return managerAttacher{manager: m}
}

type managerAttacher struct {
	manager *session.Manager
}

func (a managerAttacher) Attach(ctx context.Context, documentPath string) (Link, error) {
	s, err := a.manager.Attach(ctx, documentPath)
	if err != nil {
		return nil, err
	}
	return sessionLink{Session: s}, nil
}

func (a managerAttacher) Detach(link Link) error {
	sl, ok := link.(sessionLink)
	if !ok {
		return fmt.Errorf("cannot detach foreign link %T", link)
	}
	return a.manager.Detach(sl.Session)
}

type sessionLink struct {
	*session.Session
}

func (l sessionLink) SendCompute(text string) error {
	return l.Conn().SendCompute(text)
}

func (l sessionLink) ReadEvent() (protocol.Event, error) {
	return l.Conn().ReadEvent()
}
