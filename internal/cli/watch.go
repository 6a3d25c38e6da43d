package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/morozRed/worksheet/internal/config"
	"github.com/morozRed/worksheet/internal/display"
	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/session"
	"github.com/morozRed/worksheet/internal/span"
	"github.com/morozRed/worksheet/internal/worksheet"
)

const saveDebounce = 75 * time.Millisecond

func RunWatch(cmd *cobra.Command, args []string) error {
	current, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	if !worksheet.IsApplicable(path, current.Config.Extensions) {
		return fmt.Errorf("%s is not a worksheet document (extensions: %s)", path, joinOrNone(current.Config.Extensions))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := session.ExecLauncher{
		Command: current.Config.Evaluator.Command,
		Args:    current.Config.Evaluator.Args,
		Stderr:  os.Stderr,
	}
	host, err := startHost(ctx, current.Config, current.Logger, path, launcher, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watchFile(groupCtx, path, func() {
			if err := host.Reload(); err != nil {
				current.Logger.Warn("reload failed", "path", path, "err", err)
			}
		})
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return host.Close()
	})
	return group.Wait()
}

// host wires one document to a terminal surface and an evaluator session.
type host struct {
	path     string
	buf      *span.Buffer
	terminal *display.Terminal
	rec      *worksheet.Reconciler
}

func startHost(ctx context.Context, cfg config.Config, logger *slog.Logger, path string, launcher session.Launcher, out io.Writer) (*host, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, wserrors.IOFailure(fmt.Errorf("failed to read %s: %w", path, err), "document_read_failed")
	}
	attachTimeout, err := cfg.AttachTimeout()
	if err != nil {
		return nil, err
	}
	gracePeriod, err := cfg.GracePeriod()
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(launcher)
	manager.SocketDir = cfg.Evaluator.SocketDir
	manager.AttachTimeout = attachTimeout
	manager.GracePeriod = gracePeriod
	manager.MaxFrameBytes = cfg.MaxFrameBytes
	manager.Logger = logger

	buf := span.NewBuffer(string(content))
	terminal := display.NewTerminal(out, func() string { return buf.Snapshot().Text() })
	rec := worksheet.New(worksheet.NewBufferDocument(path, buf), terminal, worksheet.SessionAttacher(manager), worksheet.Options{
		Logger:          logger,
		ComputeOnAttach: true,
	})
	rec.Start(ctx)
	return &host{path: path, buf: buf, terminal: terminal, rec: rec}, nil
}

// Reload pulls the saved file into the buffer, repositions the cells, and
// requests a compute.
func (h *host) Reload() error {
	content, err := os.ReadFile(h.path)
	if err != nil {
		return wserrors.IOFailure(fmt.Errorf("failed to read %s: %w", h.path, err), "document_read_failed")
	}
	h.buf.SetText(string(content))
	h.rec.OnViewportChanged()
	h.rec.OnDocumentSaved()
	return nil
}

func (h *host) Close() error {
	return h.rec.OnDocumentClosed()
}

// watchFile calls onSave after writes to path settle. The directory is
// watched so editors that save by renaming are seen too.
func watchFile(ctx context.Context, path string, onSave func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	debounce := time.NewTimer(saveDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce.Reset(saveDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				return fmt.Errorf("file watcher failed: %w", err)
			}
			debounce.Reset(saveDebounce)
		case <-debounce.C:
			if _, err := os.Stat(path); err == nil {
				onSave()
			}
		}
	}
}
