package dispatch

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/store"
)

func newTestAPILog(t *testing.T) *APILog {
	t.Helper()

	l, err := NewAPILog(store.NewDir(t.TempDir()), slog.Default())
	require.NoError(t, err)

	return l
}

func TestAPILog_AppendAndReload(t *testing.T) {
	dir := store.NewDir(t.TempDir())

	l, err := NewAPILog(dir, slog.Default())
	require.NoError(t, err)

	require.NoError(t, l.Append(APILogEntry{Command: "list_tenants", Scope: "admin", Status: "success", Message: "OK"}))

	reloaded, err := NewAPILog(dir, slog.Default())
	require.NoError(t, err)

	got := reloaded.Query(QueryParams{})
	require.Len(t, got, 1)
	assert.Equal(t, "list_tenants", got[0].Command)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestAPILog_QueryFilters(t *testing.T) {
	l := newTestAPILog(t)

	require.NoError(t, l.Append(APILogEntry{Command: "list_tenants", Status: "success"}))
	require.NoError(t, l.Append(APILogEntry{Command: "upload_file", Status: "error"}))
	require.NoError(t, l.Append(APILogEntry{Command: "upload_folder", Status: "success"}))

	// Case-insensitive substring on the command name.
	got := l.Query(QueryParams{Command: "UPLOAD"})
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "upload_folder", got[0].Command)

	got = l.Query(QueryParams{Status: "error"})
	require.Len(t, got, 1)
	assert.Equal(t, "upload_file", got[0].Command)

	got = l.Query(QueryParams{Command: "upload", Status: "success", Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, "upload_folder", got[0].Command)
}

func TestAPILog_CapDrainsOldest(t *testing.T) {
	l := newTestAPILog(t)

	seed := make([]APILogEntry, maxAPILogEntries)
	for i := range seed {
		seed[i] = APILogEntry{Command: fmt.Sprintf("cmd_%d", i), Status: "success"}
	}

	l.mu.Lock()
	l.entries = seed
	l.mu.Unlock()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(APILogEntry{Command: fmt.Sprintf("extra_%d", i), Status: "success"}))
	}

	l.mu.RLock()
	total := len(l.entries)
	oldest := l.entries[0].Command
	l.mu.RUnlock()

	assert.Equal(t, maxAPILogEntries, total)
	assert.Equal(t, "cmd_3", oldest)
}

func TestAPILog_DefaultConfig(t *testing.T) {
	l := newTestAPILog(t)

	cfg := l.Config()
	assert.False(t, cfg.Enabled)
	assert.EqualValues(t, 100, cfg.MaxSizeMB)
}

func TestAPILog_UpdateConfig(t *testing.T) {
	l := newTestAPILog(t)

	_, err := l.UpdateConfig(LogConfig{Enabled: true})
	assert.EqualError(t, err, "请选择日志目录")

	got, err := l.UpdateConfig(LogConfig{Enabled: true, Directory: t.TempDir(), MaxSizeMB: 1})
	require.NoError(t, err)
	assert.EqualValues(t, minMirrorSizeMB, got.MaxSizeMB)

	got, err = l.UpdateConfig(LogConfig{Enabled: false, MaxSizeMB: 9999})
	require.NoError(t, err)
	assert.EqualValues(t, maxMirrorSizeMB, got.MaxSizeMB)
	assert.Equal(t, got, l.Config())
}

func TestAPILog_MirrorWritesJSONLines(t *testing.T) {
	l := newTestAPILog(t)
	mirrorDir := t.TempDir()

	_, err := l.UpdateConfig(LogConfig{Enabled: true, Directory: mirrorDir, MaxSizeMB: 10})
	require.NoError(t, err)

	require.NoError(t, l.Append(APILogEntry{Command: "a", Status: "success"}))
	require.NoError(t, l.Append(APILogEntry{Command: "b", Status: "error"}))

	f, err := os.Open(filepath.Join(mirrorDir, mirrorFileName))
	require.NoError(t, err)
	defer f.Close()

	var lines int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++

		assert.Contains(t, scanner.Text(), `"command"`)
	}

	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestAPILog_MirrorRestartsWhenOversized(t *testing.T) {
	l := newTestAPILog(t)
	mirrorDir := t.TempDir()

	_, err := l.UpdateConfig(LogConfig{Enabled: true, Directory: mirrorDir, MaxSizeMB: minMirrorSizeMB})
	require.NoError(t, err)

	path := filepath.Join(mirrorDir, mirrorFileName)

	// Pre-seed a file already over the cap; the next append must replace it.
	big := make([]byte, minMirrorSizeMB*1024*1024)
	require.NoError(t, os.WriteFile(path, big, 0o644))

	require.NoError(t, l.Append(APILogEntry{Command: "after", Status: "success"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(big)))
}

func TestClampMirrorSize(t *testing.T) {
	assert.EqualValues(t, minMirrorSizeMB, clampMirrorSize(0))
	assert.EqualValues(t, 100, clampMirrorSize(100))
	assert.EqualValues(t, maxMirrorSizeMB, clampMirrorSize(1<<20))
}

func TestAPILog_TimestampSeam(t *testing.T) {
	l := newTestAPILog(t)

	fixed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Append(APILogEntry{Command: "x", Status: "success"}))

	got := l.Query(QueryParams{})
	require.Len(t, got, 1)
	assert.Equal(t, fixed, got[0].Timestamp)
}
