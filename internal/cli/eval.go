package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morozRed/worksheet/internal/evaluator"
	"github.com/morozRed/worksheet/internal/logging"
	"github.com/morozRed/worksheet/internal/protocol"
	"github.com/morozRed/worksheet/internal/session"
)

// NewEvalCommand is the reference evaluator process started by a session.
func NewEvalCommand(version string) *cobra.Command {
	evalCmd := &cobra.Command{
		Use:          "worksheet-eval <channelName> <documentPath>",
		Short:        "Reference evaluator: splits a script into cells and syntax-checks them",
		Args:         cobra.ExactArgs(2),
		Version:      version,
		SilenceUsage: true,
		RunE:         RunEval,
	}
	evalCmd.Flags().String("log-level", "warn", "Log level: debug|info|warn|error")
	evalCmd.Flags().Int64("max-frame-bytes", 0, "Reject inbound frames larger than this (0 = unlimited)")
	return evalCmd
}

func RunEval(cmd *cobra.Command, args []string) error {
	channelName, documentPath := args[0], args[1]
	level, err := OptionalStringFlag(cmd, "log-level")
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, level, logging.FormatText)
	if err != nil {
		return err
	}
	maxFrameBytes, err := cmd.Flags().GetInt64("max-frame-bytes")
	if err != nil {
		return fmt.Errorf("failed to read --max-frame-bytes flag: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := session.Dial(ctx, session.SocketDirFromEnv(), channelName)
	if err != nil {
		return err
	}
	splitter, _ := evaluator.DefaultRegistry().ForFile(documentPath)
	logger.Debug("evaluator attached", "channel", channelName, "document", documentPath, "language", splitter.Language())
	return evaluator.Serve(ctx, protocol.NewConn(conn, maxFrameBytes), evaluator.NewEngine(splitter), logger)
}
