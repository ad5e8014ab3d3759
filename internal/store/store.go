// Package store provides atomic whole-file JSON persistence for the
// operational state files kept in the data directory. Every store file is
// rewritten in full on change: a temp file is written next to the target
// and renamed into place so a crash never leaves a half-written file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// filePermissions is the standard permission mode for store files.
// Owner read/write, group and others read-only.
const filePermissions = 0o644

// dirPermissions is the standard permission mode for the data directory.
const dirPermissions = 0o755

// Store file names under the data directory. The feisync. prefix keeps the
// files recognizable when the data directory is shared with other tools.
const (
	TenantsFile       = "feisync.tenants.json"
	ResourceIndexFile = "feisync.resource-index.json"
	SecurityFile      = "feisync.security.json"
	TransfersFile     = "feisync.transfers.json"
	SyncTasksFile     = "feisync.sync_tasks.json"
	SyncLogsFile      = "feisync.sync_logs.json"
	APILogsFile       = "feisync.api_logs.json"
	LogConfigFile     = "feisync.log_config.json"
	APIServerFile     = "feisync.api_server.json"
)

// Dir locates store files inside a single data directory.
type Dir struct {
	base string
}

// NewDir returns a Dir rooted at base. The directory is created on first
// write, not here, so a read-only inspection never creates state.
func NewDir(base string) Dir {
	return Dir{base: base}
}

// Base returns the data directory path.
func (d Dir) Base() string {
	return d.base
}

// Path returns the absolute path of a named store file.
func (d Dir) Path(name string) string {
	return filepath.Join(d.base, name)
}

// Load reads and unmarshals a store file into v.
// A missing file is not an error: v is left untouched and ok is false.
func (d Dir) Load(name string, v any) (ok bool, err error) {
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("reading %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", name, err)
	}

	return true, nil
}

// LoadRaw reads a store file verbatim. Missing files return ok=false.
// Used for the legacy security file, which may predate the JSON format.
func (d Dir) LoadRaw(name string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(d.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("reading %s: %w", name, err)
	}

	return data, true, nil
}

// Save marshals v with indentation and atomically replaces the store file.
func (d Dir) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	return atomicWriteFile(d.Path(name), data)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the store on crash. Parent directories are created as
// needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, filePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
