package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig  = "FEISYNC_CONFIG"
	EnvDataDir = "FEISYNC_DATA_DIR"
)

// Default logging values.
const (
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Load reads and parses a TOML config file. Unknown keys are fatal: a typo
// silently ignored leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// all defaults so a first run needs no config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q (want debug, info, warn, or error)", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (want auto, text, or json)", cfg.Logging.Format)
	}

	return nil
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment -> CLI flags.
func Resolve(cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env := os.Getenv(EnvConfig); env != "" {
		cfgPath = env
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir
	if env := os.Getenv(EnvDataDir); env != "" {
		dataDir = env
	}

	if cli.DataDir != "" {
		dataDir = cli.DataDir
	}

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	return &Resolved{DataDir: dataDir, Logging: cfg.Logging}, nil
}
