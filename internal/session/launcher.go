package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// SocketDirEnv tells a launched evaluator where its channel socket lives.
const SocketDirEnv = "WORKSHEET_SOCKET_DIR"

// LaunchRequest carries what a launcher must hand to the evaluator.
type LaunchRequest struct {
	ChannelName  string
	DocumentPath string
	SocketDir    string
}

// Process is a running evaluator.
type Process interface {
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	// Terminate asks the process to exit gracefully.
	Terminate() error
	Kill() error
}

// Launcher starts an evaluator for one session.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, req LaunchRequest) (Process, error)

func (f LauncherFunc) Launch(ctx context.Context, req LaunchRequest) (Process, error) {
	return f(ctx, req)
}

// ExecLauncher runs Command with Args followed by the positional
// arguments channelName and documentPath.
type ExecLauncher struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Stderr  io.Writer
}

func (l ExecLauncher) Launch(_ context.Context, req LaunchRequest) (Process, error) {
	if strings.TrimSpace(l.Command) == "" {
		return nil, errors.New("evaluator command is required")
	}
	args := make([]string, 0, len(l.Args)+2)
	args = append(args, l.Args...)
	args = append(args, req.ChannelName, req.DocumentPath)

	// The session owns the process lifetime, so the launch context is not
	// tied to it.
	cmd := exec.Command(l.Command, args...)
	cmd.Dir = l.Dir
	cmd.Env = append(append(os.Environ(), l.Env...), SocketDirEnv+"="+req.SocketDir)
	cmd.Stdout = io.Discard
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
