package sync

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(store.NewDir(t.TempDir()), slog.Default())
	require.NoError(t, err)

	return s
}

func createTask(t *testing.T, s *Store, direction Direction) TaskRecord {
	t.Helper()

	rec, err := s.Create(CreateParams{
		Name:              "资料同步",
		Direction:         direction,
		GroupID:           "g1",
		TenantID:          "t1",
		RemoteFolderToken: "fld-root",
		RemoteLabel:       "共享空间/资料",
		LocalPath:         t.TempDir(),
		Schedule:          "0 3 * * *",
		Enabled:           true,
		Detection:         DetectionMetadata,
		Conflict:          ConflictNewest,
		PropagateDelete:   true,
	})
	require.NoError(t, err)

	return rec
}

func TestStore_CreateAndReload(t *testing.T) {
	dir := store.NewDir(t.TempDir())

	s, err := NewStore(dir, slog.Default())
	require.NoError(t, err)

	rec, err := s.Create(CreateParams{Name: "a", Direction: DirectionLocalToCloud, LocalPath: "/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, rec.LastStatus)
	assert.NotEmpty(t, rec.ID)

	reloaded, err := NewStore(dir, slog.Default())
	require.NoError(t, err)

	got, err := reloaded.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestStore_UpdateResetsSnapshotsOnRetarget(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UpdateParams)
		reason string
	}{
		{
			name: "direction change",
			mutate: func(p *UpdateParams) {
				d := DirectionCloudToLocal
				p.Direction = &d
			},
			reason: "同步方向已更新，等待重新同步。",
		},
		{
			name: "remote folder change",
			mutate: func(p *UpdateParams) {
				tok := "fld-other"
				p.RemoteFolderToken = &tok
			},
			reason: "云端目录已更新，等待重新同步。",
		},
		{
			name: "local path change",
			mutate: func(p *UpdateParams) {
				lp := "/tmp/elsewhere"
				p.LocalPath = &lp
			},
			reason: "本地目录已更新，等待重新同步。",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			rec := createTask(t, s, DirectionLocalToCloud)

			_, err := s.Update(rec.ID, func(task *TaskRecord) {
				task.LocalSnapshot = []SnapshotEntry{{Path: "a"}}
				task.RemoteSnapshot = []SnapshotEntry{{Path: "a"}}
				task.LinkedTransferIDs = []string{"x"}
				task.ConsecutiveFailures = 3
			})
			require.NoError(t, err)

			p := UpdateParams{TaskID: rec.ID}
			tc.mutate(&p)

			got, err := s.ApplyUpdate(p)
			require.NoError(t, err)

			assert.Nil(t, got.LocalSnapshot)
			assert.Nil(t, got.RemoteSnapshot)
			assert.Empty(t, got.LinkedTransferIDs)
			assert.Equal(t, StatusIdle, got.LastStatus)
			assert.Equal(t, tc.reason, got.LastMessage)
			assert.Zero(t, got.ConsecutiveFailures)
		})
	}
}

func TestStore_UpdateWithoutRetargetKeepsSnapshots(t *testing.T) {
	s := newTestStore(t)
	rec := createTask(t, s, DirectionLocalToCloud)

	_, err := s.Update(rec.ID, func(task *TaskRecord) {
		task.LocalSnapshot = []SnapshotEntry{{Path: "a"}}
		task.RemoteSnapshot = []SnapshotEntry{{Path: "a"}}
	})
	require.NoError(t, err)

	name := "改名"
	sched := "30 2 * * *"

	got, err := s.ApplyUpdate(UpdateParams{TaskID: rec.ID, Name: &name, Schedule: &sched})
	require.NoError(t, err)

	assert.Equal(t, "改名", got.Name)
	assert.NotNil(t, got.LocalSnapshot)
	assert.NotNil(t, got.RemoteSnapshot)
}

func TestStore_SameTargetDoesNotReset(t *testing.T) {
	s := newTestStore(t)
	rec := createTask(t, s, DirectionLocalToCloud)

	_, err := s.Update(rec.ID, func(task *TaskRecord) {
		task.LocalSnapshot = []SnapshotEntry{{Path: "a"}}
		task.RemoteSnapshot = []SnapshotEntry{{Path: "a"}}
	})
	require.NoError(t, err)

	same := rec.RemoteFolderToken

	got, err := s.ApplyUpdate(UpdateParams{TaskID: rec.ID, RemoteFolderToken: &same})
	require.NoError(t, err)
	assert.NotNil(t, got.LocalSnapshot)
}

func TestStore_RemoveAndMissing(t *testing.T) {
	s := newTestStore(t)
	rec := createTask(t, s, DirectionLocalToCloud)

	require.NoError(t, s.Remove(rec.ID))
	assert.ErrorIs(t, s.Remove(rec.ID), ErrTaskNotFound)

	_, err := s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_ListMostRecentlyUpdatedFirst(t *testing.T) {
	s := newTestStore(t)

	stamp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		stamp = stamp.Add(time.Second)

		return stamp
	}

	a := createTask(t, s, DirectionLocalToCloud)
	_ = createTask(t, s, DirectionCloudToLocal)

	_, err := s.Update(a.ID, func(task *TaskRecord) { task.Notes = "touched" })
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestStore_LogCapDrainsOldest(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < maxLogEntries+5; i++ {
		require.NoError(t, s.AppendLog("task-1", "info", fmt.Sprintf("line %d", i)))
	}

	logs := s.Logs("task-1", maxLogLimit)
	assert.Len(t, logs, maxLogLimit)

	s.mu.RLock()
	total := len(s.logs)
	oldest := s.logs[0].Message
	s.mu.RUnlock()

	assert.Equal(t, maxLogEntries, total)
	assert.Equal(t, "line 5", oldest)
}

func TestStore_LogsFilteredAndLimited(t *testing.T) {
	s := newTestStore(t)

	stamp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		stamp = stamp.Add(time.Second)

		return stamp
	}

	for i := 0; i < 150; i++ {
		require.NoError(t, s.AppendLog("task-a", "info", fmt.Sprintf("a %d", i)))
	}

	require.NoError(t, s.AppendLog("task-b", "info", "b 0"))

	// Default limit is 100, newest first.
	logs := s.Logs("task-a", 0)
	require.Len(t, logs, 100)
	assert.Equal(t, "a 149", logs[0].Message)

	// Hard cap at 500.
	logs = s.Logs("task-a", 10_000)
	assert.Len(t, logs, 150)

	logs = s.Logs("task-b", 0)
	require.Len(t, logs, 1)
}
