package session

import (
	"os/exec"
	"strings"
)

type EvaluatorStatus struct {
	Command   string `json:"command"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func ProbeEvaluator(command string) EvaluatorStatus {
	return ProbeEvaluatorWithLookPath(command, exec.LookPath)
}

func ProbeEvaluatorWithLookPath(command string, lookPath func(file string) (string, error)) EvaluatorStatus {
	status := EvaluatorStatus{Command: strings.TrimSpace(command)}
	if status.Command == "" {
		status.Reason = "command_not_configured"
		return status
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	resolved, err := lookPath(status.Command)
	if err != nil {
		status.Reason = "command_not_found"
		return status
	}
	status.Path = resolved
	status.Available = true
	return status
}
