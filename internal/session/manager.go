package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/logging"
	"github.com/morozRed/worksheet/internal/protocol"
)

const (
	DefaultAttachTimeout = 10 * time.Second
	DefaultGracePeriod   = 2 * time.Second
	channelPrefix        = "worksheet-"

	// MaxSocketPath is the longest unix socket path accepted on every
	// supported platform (sun_path is 104 bytes on darwin, 108 on linux).
	MaxSocketPath = 103
)

// NewChannelName returns a fresh, unique channel name.
func NewChannelName() string {
	return channelPrefix + uuid.NewString()
}

// ChannelPath is the socket path for a channel. An empty dir means the
// system temp directory.
func ChannelPath(dir string, channelName string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, channelName+".sock")
}

// CheckSocketDir reports whether channel sockets fit under dir.
func CheckSocketDir(dir string) error {
	path := ChannelPath(dir, NewChannelName())
	if len(path) <= MaxSocketPath {
		return nil
	}
	return wserrors.New(wserrors.CategorySpawnFailed, "socket_path_too_long",
		"set evaluator.socket_dir to a shorter directory",
		fmt.Errorf("socket path %s is %d bytes, the limit is %d", path, len(path), MaxSocketPath))
}

// SocketDirFromEnv returns the socket directory a launched evaluator was
// given, or "" for the default.
func SocketDirFromEnv() string {
	return os.Getenv(SocketDirEnv)
}

// Dial connects an evaluator to the front end's channel.
func Dial(ctx context.Context, socketDir string, channelName string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", ChannelPath(socketDir, channelName))
	if err != nil {
		return nil, fmt.Errorf("dial channel %s: %w", channelName, err)
	}
	return conn, nil
}

// Manager starts and stops evaluator sessions, at most one per document.
type Manager struct {
	Launcher      Launcher
	SocketDir     string
	AttachTimeout time.Duration
	GracePeriod   time.Duration
	MaxFrameBytes int64
	Logger        *slog.Logger

	mu        sync.Mutex
	active    map[string]*Session
	attaching map[string]*sync.Mutex
}

func NewManager(launcher Launcher) *Manager {
	return &Manager{
		Launcher:      launcher,
		AttachTimeout: DefaultAttachTimeout,
		GracePeriod:   DefaultGracePeriod,
	}
}

// Attach starts a new session for documentPath. Any live session for the
// same document is fully detached before the new evaluator starts.
func (m *Manager) Attach(ctx context.Context, documentPath string) (*Session, error) {
	if m.Launcher == nil {
		return nil, wserrors.Spawn(errors.New("no evaluator launcher configured"), "no_launcher")
	}
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, wserrors.Spawn(fmt.Errorf("resolve document path: %w", err), "bad_document_path")
	}
	if err := CheckSocketDir(m.SocketDir); err != nil {
		return nil, err
	}
	logger := logging.Component(m.Logger, "session")

	lock := m.documentLock(absPath)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	previous := m.active[absPath]
	delete(m.active, absPath)
	m.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil {
			logger.Warn("previous session teardown failed", "channel", previous.ChannelName, "err", err)
		}
	}

	name := NewChannelName()
	socketPath := ChannelPath(m.SocketDir, name)
	if err := removeSocket(socketPath); err != nil {
		return nil, wserrors.Spawn(err, "listen_failed")
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, wserrors.Spawn(fmt.Errorf("listen on %s: %w", socketPath, err), "listen_failed")
	}

	proc, err := m.Launcher.Launch(ctx, LaunchRequest{
		ChannelName:  name,
		DocumentPath: absPath,
		SocketDir:    m.SocketDir,
	})
	if err != nil {
		_ = listener.Close()
		_ = removeSocket(socketPath)
		return nil, wserrors.Spawn(err, "launch_failed")
	}

	exit := watchExit(proc)
	conn, err := m.accept(ctx, listener, exit.done)
	_ = listener.Close()
	if err != nil {
		_ = stopProcess(proc, exit.done, m.gracePeriod())
		_ = removeSocket(socketPath)
		return nil, err
	}

	s := newSession(name, absPath, protocol.NewConn(conn, m.MaxFrameBytes), proc, exit, socketPath, m.gracePeriod(), logger)

	m.mu.Lock()
	if m.active == nil {
		m.active = make(map[string]*Session)
	}
	m.active[absPath] = s
	m.mu.Unlock()

	logger.Debug("session attached", "channel", name, "document", absPath)
	return s, nil
}

// documentLock serializes attaches for one document, so the detach of the
// previous session and the start of the next never interleave with
// another Attach.
func (m *Manager) documentLock(absPath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attaching == nil {
		m.attaching = make(map[string]*sync.Mutex)
	}
	lock, ok := m.attaching[absPath]
	if !ok {
		lock = &sync.Mutex{}
		m.attaching[absPath] = lock
	}
	return lock
}

type acceptResult struct {
	conn net.Conn
	err  error
}

func (m *Manager) accept(ctx context.Context, listener net.Listener, exited <-chan struct{}) (net.Conn, error) {
	results := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		results <- acceptResult{conn: conn, err: err}
	}()

	timeout := m.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var failure error
	select {
	case result := <-results:
		if result.err == nil {
			return result.conn, nil
		}
		return nil, wserrors.Spawn(fmt.Errorf("accept evaluator connection: %w", result.err), "accept_failed")
	case <-exited:
		failure = wserrors.Spawn(errors.New("evaluator exited before connecting"), "exited_before_connect")
	case <-timer.C:
		failure = wserrors.Spawn(fmt.Errorf("evaluator did not connect within %s", timeout), "attach_timeout")
	case <-ctx.Done():
		failure = wserrors.Spawn(ctx.Err(), "attach_cancelled")
	}

	_ = listener.Close()
	if result := <-results; result.conn != nil {
		_ = result.conn.Close()
	}
	return nil, failure
}

// Detach closes the session and forgets it. It is idempotent.
func (m *Manager) Detach(s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	if m.active[s.DocumentPath] == s {
		delete(m.active, s.DocumentPath)
	}
	m.mu.Unlock()
	return s.Close()
}

// Active returns the live session for documentPath, if any.
func (m *Manager) Active(documentPath string) (*Session, bool) {
	absPath, err := filepath.Abs(documentPath)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[absPath]
	return s, ok
}

func (m *Manager) gracePeriod() time.Duration {
	if m.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return m.GracePeriod
}
