package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morozRed/worksheet/internal/config"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worksheet",
		Short: "Evaluate script documents cell by cell as they are saved",
		Long: `Worksheet splits a script into cells, sends it to an evaluator process
on every save, and shows each cell's result next to its source.

Documents are only handled when their extension is a recognized script
type (see "worksheet check").`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("evaluator", "", "Evaluator command (overrides evaluator.command)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (overrides log.level)")

	watchCmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Attach an evaluator to a script and re-evaluate it on every save",
		Args:  cobra.ExactArgs(1),
		RunE:  RunWatch,
	}

	checkCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Report whether a document is handled and how it is split",
		Args:  cobra.ExactArgs(1),
		RunE:  RunCheck,
	}
	checkCmd.Flags().Bool("json", false, "Print machine-readable check output")

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and evaluator availability",
		RunE:  RunDoctor,
	}
	doctorCmd.Flags().Bool("json", false, "Print machine-readable doctor output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "worksheet %s\n", version)
		},
	}

	rootCmd.AddCommand(
		watchCmd,
		checkCmd,
		doctorCmd,
		versionCmd,
	)

	return rootCmd
}
