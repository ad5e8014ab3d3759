// Package config implements TOML configuration loading and path resolution
// for feisync. Overrides follow a three-layer chain: defaults -> config
// file -> environment/CLI flags, with flags winning.
package config

// Config is the top-level structure parsed from feisync.toml.
type Config struct {
	// DataDir is where all operational state lives: tenant credentials,
	// the resource index, transfer and sync task stores, api logs.
	DataDir string `toml:"data_dir"`

	Logging LoggingConfig `toml:"logging"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`

	// Format is "json", "text", or "auto" (text on a terminal, json
	// otherwise).
	Format string `toml:"format"`

	// File, when set, receives log output instead of stderr.
	File string `toml:"file"`
}

// CLIOverrides holds flag values that override the config file.
type CLIOverrides struct {
	ConfigPath string // --config
	DataDir    string // --data-dir
}

// Resolved is the final effective configuration.
type Resolved struct {
	DataDir string
	Logging LoggingConfig
}
