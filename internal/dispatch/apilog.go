package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/store"
)

// maxAPILogEntries caps the persisted api-call history; oldest entries are
// drained past the cap.
const maxAPILogEntries = 2000

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 2000
)

// mirrorFileName is the plain-text mirror written into the operator-chosen
// log directory when mirroring is enabled.
const mirrorFileName = "feisync_api.log"

// Mirror file size bounds in MiB.
const (
	minMirrorSizeMB     = 5
	maxMirrorSizeMB     = 2048
	defaultMirrorSizeMB = 100
)

// APILogEntry is one recorded command invocation.
type APILogEntry struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Scope      string         `json:"scope"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// LogConfig controls the optional plain-file mirror of the api log.
type LogConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
	MaxSizeMB int64  `json:"max_size_mb"`
}

type apiLogFile struct {
	Version int           `json:"version"`
	Logs    []APILogEntry `json:"logs"`
}

// APILog keeps the bounded history of command invocations plus the mirror
// configuration, both persisted under the data dir.
type APILog struct {
	mu      sync.RWMutex
	entries []APILogEntry
	cfg     LogConfig

	dir    store.Dir
	logger *slog.Logger

	now func() time.Time
}

func NewAPILog(dir store.Dir, logger *slog.Logger) (*APILog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &APILog{
		cfg:    LogConfig{MaxSizeMB: defaultMirrorSizeMB},
		dir:    dir,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	var lf apiLogFile
	if _, err := dir.Load(store.APILogsFile, &lf); err != nil {
		return nil, err
	}

	l.entries = lf.Logs

	var cfg LogConfig
	if ok, err := dir.Load(store.LogConfigFile, &cfg); err != nil {
		return nil, err
	} else if ok {
		cfg.MaxSizeMB = clampMirrorSize(cfg.MaxSizeMB)
		l.cfg = cfg
	}

	return l, nil
}

func clampMirrorSize(mb int64) int64 {
	if mb < minMirrorSizeMB {
		return minMirrorSizeMB
	}

	if mb > maxMirrorSizeMB {
		return maxMirrorSizeMB
	}

	return mb
}

// Append records one invocation, drains past the cap, persists, and writes
// the mirror line when mirroring is enabled.
func (l *APILog) Append(entry APILogEntry) error {
	entry.ID = uuid.NewString()
	entry.Timestamp = l.now()

	l.mu.Lock()
	l.entries = append(l.entries, entry)

	if over := len(l.entries) - maxAPILogEntries; over > 0 {
		l.entries = append([]APILogEntry(nil), l.entries[over:]...)
	}

	cfg := l.cfg
	l.mu.Unlock()

	if err := l.persist(); err != nil {
		return err
	}

	if cfg.Enabled && cfg.Directory != "" {
		if err := l.mirror(cfg, entry); err != nil {
			l.logger.Warn("api log mirror write failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (l *APILog) persist() error {
	l.mu.RLock()
	file := apiLogFile{Version: 1, Logs: append([]APILogEntry(nil), l.entries...)}
	l.mu.RUnlock()

	return l.dir.Save(store.APILogsFile, file)
}

// mirror appends one JSON line to the mirror file. When the file has grown
// past the configured cap it is removed and restarted rather than rotated.
func (l *APILog) mirror(cfg LogConfig, entry APILogEntry) error {
	path := filepath.Join(cfg.Directory, mirrorFileName)

	maxBytes := clampMirrorSize(cfg.MaxSizeMB) * 1024 * 1024
	if info, err := os.Stat(path); err == nil && info.Size() >= maxBytes {
		if err := os.Remove(path); err != nil {
			return err
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

// QueryParams filters the api log. Command matches by case-insensitive
// substring; Status matches exactly.
type QueryParams struct {
	Command string `json:"command"`
	Status  string `json:"status"`
	Limit   int    `json:"limit"`
}

// Query returns matching entries, newest first.
func (l *APILog) Query(p QueryParams) []APILogEntry {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	needle := strings.ToLower(strings.TrimSpace(p.Command))

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]APILogEntry, 0, limit)

	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]

		if needle != "" && !strings.Contains(strings.ToLower(e.Command), needle) {
			continue
		}

		if p.Status != "" && e.Status != p.Status {
			continue
		}

		out = append(out, e)
	}

	return out
}

// Config returns the current mirror configuration.
func (l *APILog) Config() LogConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cfg
}

// UpdateConfig validates, clamps, and persists a new mirror configuration.
func (l *APILog) UpdateConfig(cfg LogConfig) (LogConfig, error) {
	cfg.Directory = strings.TrimSpace(cfg.Directory)

	if cfg.Enabled && cfg.Directory == "" {
		return LogConfig{}, errors.New("请选择日志目录")
	}

	cfg.MaxSizeMB = clampMirrorSize(cfg.MaxSizeMB)

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	if err := l.dir.Save(store.LogConfigFile, cfg); err != nil {
		return LogConfig{}, err
	}

	return cfg, nil
}
