package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	wserrors "github.com/morozRed/worksheet/internal/errors"
	"github.com/morozRed/worksheet/internal/session"
)

type DoctorSummary struct {
	Mode             string                  `json:"mode"`
	ConfigPath       string                  `json:"config_path"`
	ConfigFound      bool                    `json:"config_found"`
	Extensions       []string                `json:"extensions"`
	Evaluator        session.EvaluatorStatus `json:"evaluator"`
	SocketDir        string                  `json:"socket_dir"`
	SocketDirOK      bool                    `json:"socket_dir_ok"`
	SocketDirProblem string                  `json:"socket_dir_problem,omitempty"`
	Missing          []string                `json:"missing,omitempty"`
	Suggestions      []string                `json:"suggestions,omitempty"`
	Healthy          bool                    `json:"healthy"`
}

func RunDoctor(cmd *cobra.Command, args []string) error {
	return runDoctor(cmd, session.ProbeEvaluator)
}

func runDoctor(cmd *cobra.Command, probe func(command string) session.EvaluatorStatus) error {
	current, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}

	summary := DoctorSummary{
		Mode:       "doctor",
		ConfigPath: current.ConfigPath,
		Extensions: current.Config.Extensions,
		Evaluator:  probe(current.Config.Evaluator.Command),
		SocketDir:  current.Config.Evaluator.SocketDir,
	}
	if _, statErr := os.Stat(current.ConfigPath); statErr == nil {
		summary.ConfigFound = true
	}
	if summary.SocketDir == "" {
		summary.SocketDir = os.TempDir()
	}
	if info, statErr := os.Stat(summary.SocketDir); statErr == nil && info.IsDir() {
		summary.SocketDirOK = true
	}
	lengthErr := session.CheckSocketDir(summary.SocketDir)
	if lengthErr != nil {
		summary.SocketDirOK = false
		summary.SocketDirProblem = lengthErr.Error()
	}

	if !summary.Evaluator.Available {
		summary.Missing = append(summary.Missing, "evaluator command "+summary.Evaluator.Command)
		summary.Suggestions = append(summary.Suggestions, "install worksheet-eval or set evaluator.command in "+current.ConfigPath)
	}
	if !summary.SocketDirOK {
		summary.Missing = append(summary.Missing, "socket directory "+summary.SocketDir)
		if summary.SocketDirProblem != "" {
			summary.Suggestions = append(summary.Suggestions, wserrors.HintOf(lengthErr))
		} else {
			summary.Suggestions = append(summary.Suggestions, "create the directory or clear evaluator.socket_dir")
		}
	}
	sort.Strings(summary.Missing)
	sort.Strings(summary.Suggestions)
	summary.Healthy = len(summary.Missing) == 0

	if asJSON {
		return PrintJSON(summary)
	}

	status := "issues"
	if summary.Healthy {
		status = "ok"
	}
	fmt.Printf("doctor: %s\n", status)
	fmt.Printf("config: %s found=%t\n", summary.ConfigPath, summary.ConfigFound)
	fmt.Printf("extensions: %s\n", joinOrNone(summary.Extensions))
	evaluatorPath := summary.Evaluator.Path
	if evaluatorPath == "" {
		evaluatorPath = summary.Evaluator.Reason
	}
	fmt.Printf("evaluator: %s (%s)\n", summary.Evaluator.Command, evaluatorPath)
	fmt.Printf("socket dir: %s ok=%t\n", summary.SocketDir, summary.SocketDirOK)
	if len(summary.Missing) > 0 {
		fmt.Printf("missing (%d): %s\n", len(summary.Missing), strings.Join(summary.Missing, ", "))
	}
	for _, suggestion := range summary.Suggestions {
		fmt.Printf("next: %s\n", suggestion)
	}
	return nil
}
