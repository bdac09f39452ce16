package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable that overrides the config
// file, e.g. DEPLOYGRID_NETWORK or DEPLOYGRID_LOG_LEVEL.
const EnvPrefix = "DEPLOYGRID_"

// Executor kinds.
const (
	ExecutorSimulated = "simulated"
	ExecutorCommand   = "command"
	ExecutorSocketIO  = "socketio"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Paths are the files or directories holding deployment definitions.
	Paths []string `koanf:"paths"`
	// Dotenv is merged into the environment seen by `env.*`.
	Dotenv  string `koanf:"dotenv"`
	Network string `koanf:"network"`
	// Ledger is a store URL: memory://, file://DIR, postgres://..., s3://BUCKET/PREFIX.
	Ledger      string `koanf:"ledger"`
	MetricsFile string `koanf:"metrics_file"`

	Log      LogConfig      `koanf:"log"`
	Executor ExecutorConfig `koanf:"executor"`
	S3       S3Config       `koanf:"s3"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ExecutorConfig selects and configures the deployment backend.
type ExecutorConfig struct {
	Kind string `koanf:"kind"`
	// Command is the program and arguments run by the command executor.
	Command []string `koanf:"command"`
	// URL of the socket.io deploy agent.
	URL                string        `koanf:"url"`
	Namespace          string        `koanf:"namespace"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	Timeout            time.Duration `koanf:"timeout"`
}

// S3Config holds the credentials of s3:// ledgers.
type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Paths:    []string{"deploy"},
		Dotenv:   ".env",
		Network:  "default",
		Ledger:   "file://.deploygrid",
		Log:      LogConfig{Level: "info", Format: "text"},
		Executor: ExecutorConfig{Kind: ExecutorSimulated, Timeout: 5 * time.Minute},
		S3:       S3Config{UseSSL: true},
	}
}

// sections are the nested config keys; DEPLOYGRID_LOG_LEVEL maps to log.level
// while DEPLOYGRID_METRICS_FILE stays metrics_file.
var sections = map[string]bool{"log": true, "executor": true, "s3": true}

// LoadConfig layers, from lowest to highest precedence: defaults, the YAML
// file at path (skipped when path is empty or the file is missing), and
// DEPLOYGRID_* environment variables.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps DEPLOYGRID_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if ok && sections[section] {
		return section + "." + field
	}
	return lower
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Paths) == 0 {
		errs = append(errs, errors.New("at least one deployment path is required"))
	}
	if c.Network == "" {
		errs = append(errs, errors.New("network is required"))
	}
	if c.Ledger == "" {
		errs = append(errs, errors.New("ledger is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.Log.Format))
	}
	switch c.Executor.Kind {
	case ExecutorSimulated:
	case ExecutorCommand:
		if len(c.Executor.Command) == 0 {
			errs = append(errs, errors.New("executor.command is required for the command executor"))
		}
	case ExecutorSocketIO:
		if c.Executor.URL == "" {
			errs = append(errs, errors.New("executor.url is required for the socketio executor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown executor kind %q", c.Executor.Kind))
	}
	if c.Executor.Timeout < 0 {
		errs = append(errs, errors.New("executor.timeout must not be negative"))
	}
	return errors.Join(errs...)
}
