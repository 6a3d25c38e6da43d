package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	wserrors "github.com/morozRed/worksheet/internal/errors"
)

const DefaultPath = ".worksheet.yaml"

// DefaultExtensions are the script types handled when no extensions are
// configured.
var DefaultExtensions = []string{".fsx", ".fsscript", ".py"}

type Config struct {
	Evaluator     EvaluatorConfig `yaml:"evaluator"`
	Extensions    []string        `yaml:"extensions"`
	MaxFrameBytes int64           `yaml:"max_frame_bytes"`
	Log           LogConfig       `yaml:"log"`
}

type EvaluatorConfig struct {
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	AttachTimeout string   `yaml:"attach_timeout"`
	GracePeriod   string   `yaml:"grace_period"`
	SocketDir     string   `yaml:"socket_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Evaluator: EvaluatorConfig{
			Command:       "worksheet-eval",
			AttachTimeout: "10s",
			GracePeriod:   "2s",
		},
		Extensions: append([]string(nil), DefaultExtensions...),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// only an error when allowMissing is false.
func Load(path string, allowMissing bool) (Config, error) {
	configuration := Default()
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, wserrors.InvalidInput(fmt.Errorf("config path is required"), "config_path_required", "pass --config <file>")
	}

	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return configuration, nil
		}
		return Config{}, wserrors.IOFailure(fmt.Errorf("read config: %w", err), "config_read_failed")
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return configuration, nil
	}

	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, wserrors.InvalidInput(fmt.Errorf("parse config: %w", err), "config_parse_failed", "fix the YAML in "+trimmedPath)
	}
	configuration.normalize()
	if err := configuration.Validate(); err != nil {
		return Config{}, wserrors.InvalidInput(fmt.Errorf("invalid config %s: %w", trimmedPath, err), "invalid_config", "")
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	defaults := Default()
	configuration.Evaluator.Command = strings.TrimSpace(configuration.Evaluator.Command)
	if configuration.Evaluator.Command == "" {
		configuration.Evaluator.Command = defaults.Evaluator.Command
	}
	configuration.Evaluator.AttachTimeout = strings.TrimSpace(configuration.Evaluator.AttachTimeout)
	configuration.Evaluator.GracePeriod = strings.TrimSpace(configuration.Evaluator.GracePeriod)
	configuration.Evaluator.SocketDir = strings.TrimSpace(configuration.Evaluator.SocketDir)

	extensions := make([]string, 0, len(configuration.Extensions))
	seen := make(map[string]bool, len(configuration.Extensions))
	for _, ext := range configuration.Extensions {
		ext = NormalizeExtension(ext)
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		extensions = append(extensions, ext)
	}
	if len(extensions) == 0 {
		extensions = defaults.Extensions
	}
	configuration.Extensions = extensions

	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
}

// NormalizeExtension lowercases ext and ensures the leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (configuration Config) Validate() error {
	if _, err := configuration.AttachTimeout(); err != nil {
		return err
	}
	if _, err := configuration.GracePeriod(); err != nil {
		return err
	}
	if configuration.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes must be >= 0")
	}
	return nil
}

func (configuration Config) AttachTimeout() (time.Duration, error) {
	return parseDuration("evaluator.attach_timeout", configuration.Evaluator.AttachTimeout, 10*time.Second)
}

func (configuration Config) GracePeriod() (time.Duration, error) {
	return parseDuration("evaluator.grace_period", configuration.Evaluator.GracePeriod, 2*time.Second)
}

func parseDuration(key string, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return duration, nil
}
