package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morozRed/worksheet/internal/config"
	"github.com/morozRed/worksheet/internal/logging"
)

func OptionalStringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func OptionalBoolFlag(cmd *cobra.Command, name string, defaultValue bool) (bool, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return defaultValue, nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

type settings struct {
	Config     config.Config
	ConfigPath string
	Logger     *slog.Logger
}

// loadSettings reads the config file named by --config and applies flag
// overrides. The default path may be absent; an explicit one may not.
func loadSettings(cmd *cobra.Command) (settings, error) {
	configPath, err := OptionalStringFlag(cmd, "config")
	if err != nil {
		return settings{}, err
	}
	allowMissing := false
	if configPath == "" || configPath == config.DefaultPath {
		configPath = config.DefaultPath
		allowMissing = true
		if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Changed {
			allowMissing = false
		}
	}

	configuration, err := config.Load(configPath, allowMissing)
	if err != nil {
		return settings{}, err
	}

	evaluatorCommand, err := OptionalStringFlag(cmd, "evaluator")
	if err != nil {
		return settings{}, err
	}
	if evaluatorCommand != "" {
		configuration.Evaluator.Command = evaluatorCommand
	}
	logLevel, err := OptionalStringFlag(cmd, "log-level")
	if err != nil {
		return settings{}, err
	}
	if logLevel != "" {
		configuration.Log.Level = logLevel
	}

	logger, err := logging.New(os.Stderr, configuration.Log.Level, configuration.Log.Format)
	if err != nil {
		return settings{}, err
	}
	return settings{Config: configuration, ConfigPath: configPath, Logger: logger}, nil
}
