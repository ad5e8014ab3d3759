package server

import "github.com/feisync/feisync/internal/store"

// Defaults and bounds for the loopback API server.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 6688

	defaultTimeoutSecs = 120
	minTimeoutSecs     = 30
	maxTimeoutSecs     = 600
)

// Config is the persisted API server configuration.
type Config struct {
	ListenHost  string `json:"listen_host"`
	Port        int    `json:"port"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// normalize fills defaults and clamps the request timeout.
func (c Config) normalize() Config {
	if c.ListenHost == "" {
		c.ListenHost = DefaultHost
	}

	if c.Port <= 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}

	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = defaultTimeoutSecs
	}

	if c.TimeoutSecs < minTimeoutSecs {
		c.TimeoutSecs = minTimeoutSecs
	}

	if c.TimeoutSecs > maxTimeoutSecs {
		c.TimeoutSecs = maxTimeoutSecs
	}

	return c
}

// LoadConfig reads the persisted server configuration, returning defaults
// when none exists.
func LoadConfig(dir store.Dir) (Config, error) {
	var cfg Config
	if _, err := dir.Load(store.APIServerFile, &cfg); err != nil {
		return Config{}, err
	}

	return cfg.normalize(), nil
}

// SaveConfig normalizes and persists the server configuration.
func SaveConfig(dir store.Dir, cfg Config) (Config, error) {
	cfg = cfg.normalize()

	return cfg, dir.Save(store.APIServerFile, cfg)
}
