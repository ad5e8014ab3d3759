package config

import (
	"os"
	"path/filepath"
)

// Directory name used for the config file.
const appName = "feisync"

// dataDirName matches the directory the desktop releases used, so an
// existing installation's state is picked up unchanged.
const dataDirName = "FeiSync"

// Config file name.
const configFileName = "feisync.toml"

// DefaultConfigDir returns the directory searched for feisync.toml,
// honoring XDG_CONFIG_HOME.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// DefaultDataDir returns the default state directory.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return dataDirName
	}

	return filepath.Join(base, dataDirName)
}
