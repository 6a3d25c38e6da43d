package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/protocol"
)

// Session is one live evaluator process and its channel.
type Session struct {
	ChannelName  string
	DocumentPath string

	conn       *protocol.Conn
	proc       Process
	socketPath string
	grace      time.Duration
	logger     *slog.Logger

	exit *exitWatch
	lost chan struct{}

	mu      sync.Mutex
	closing bool
	err     error

	closeOnce sync.Once
	closeErr  error
}

type exitWatch struct {
	done chan struct{}
	err  error
}

func watchExit(proc Process) *exitWatch {
	w := &exitWatch{done: make(chan struct{})}
	go func() {
		w.err = proc.Wait()
		close(w.done)
	}()
	return w
}

func newSession(name, path string, conn *protocol.Conn, proc Process, exit *exitWatch, socketPath string, grace time.Duration, logger *slog.Logger) *Session {
	s := &Session{
		ChannelName:  name,
		DocumentPath: path,
		conn:         conn,
		proc:         proc,
		socketPath:   socketPath,
		grace:        grace,
		logger:       logger,
		exit:         exit,
		lost:         make(chan struct{}),
	}
	go s.watch()
	return s
}

// Conn is the channel to the evaluator.
func (s *Session) Conn() *protocol.Conn {
	return s.conn
}

// Lost is closed when the evaluator exits while the session is attached.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Err reports why the session was lost, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) watch() {
	<-s.exit.done
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	cause := s.exit.err
	if cause == nil {
		cause = errors.New("evaluator exited")
	} else {
		cause = fmt.Errorf("evaluator exited: %w", cause)
	}
	s.err = wserrors.SessionLost(cause, "process_exited")
	close(s.lost)
	s.mu.Unlock()

	s.logger.Warn("evaluator exited while attached", "channel", s.ChannelName, "err", cause)
	_ = s.conn.Close()
}

// Close closes the channel, asks the evaluator to exit, kills it after
// the grace period, and removes the socket. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		var errs []error
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		if err := stopProcess(s.proc, s.exit.done, s.grace); err != nil {
			errs = append(errs, err)
		}
		if err := removeSocket(s.socketPath); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("session closed", "channel", s.ChannelName)
	})
	return s.closeErr
}

func stopProcess(proc Process, exited <-chan struct{}, grace time.Duration) error {
	select {
	case <-exited:
		return nil
	default:
	}
	if err := proc.Terminate(); err != nil {
		select {
		case <-exited:
			return nil
		default:
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	}

	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill evaluator: %w", err)
	}
	timer.Reset(grace)
	select {
	case <-exited:
		return nil
	case <-timer.C:
		return errors.New("evaluator did not exit after kill")
	}
}

func removeSocket(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}
