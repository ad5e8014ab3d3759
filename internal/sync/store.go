package sync

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/store"
)

// maxLogEntries caps the in-memory run history; the oldest entries are
// drained when the cap is exceeded.
const maxLogEntries = 2000

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

type taskStoreFile struct {
	Version int          `json:"version"`
	Tasks   []TaskRecord `json:"tasks"`
}

type logStoreFile struct {
	Version int        `json:"version"`
	Logs    []LogEntry `json:"logs"`
}

// Store owns the sync task records and their run logs, persisted
// whole-file under the data dir.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*TaskRecord
	logs  []LogEntry

	dir    store.Dir
	logger *slog.Logger

	now func() time.Time
}

func NewStore(dir store.Dir, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		tasks:  make(map[string]*TaskRecord),
		dir:    dir,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	var tf taskStoreFile
	if _, err := dir.Load(store.SyncTasksFile, &tf); err != nil {
		return nil, err
	}

	for i := range tf.Tasks {
		t := tf.Tasks[i]
		s.tasks[t.ID] = &t
	}

	var lf logStoreFile
	if _, err := dir.Load(store.SyncLogsFile, &lf); err != nil {
		return nil, err
	}

	s.logs = lf.Logs

	return s, nil
}

func (s *Store) persistTasks() error {
	s.mu.RLock()

	file := taskStoreFile{Version: 1, Tasks: make([]TaskRecord, 0, len(s.tasks))}
	for _, t := range s.tasks {
		file.Tasks = append(file.Tasks, *t)
	}

	s.mu.RUnlock()

	sort.Slice(file.Tasks, func(i, j int) bool {
		return file.Tasks[i].CreatedAt.Before(file.Tasks[j].CreatedAt)
	})

	return s.dir.Save(store.SyncTasksFile, file)
}

func (s *Store) persistLogs() error {
	s.mu.RLock()
	file := logStoreFile{Version: 1, Logs: append([]LogEntry(nil), s.logs...)}
	s.mu.RUnlock()

	return s.dir.Save(store.SyncLogsFile, file)
}

// CreateParams carries everything a new task needs; state fields start at
// their zero values.
type CreateParams struct {
	Name              string           `json:"name"`
	Direction         Direction        `json:"direction"`
	GroupID           string           `json:"group_id"`
	GroupName         string           `json:"group_name"`
	TenantID          string           `json:"tenant_id"`
	TenantName        string           `json:"tenant_name"`
	RemoteFolderToken string           `json:"remote_folder_token"`
	RemoteLabel       string           `json:"remote_label"`
	LocalPath         string           `json:"local_path"`
	Schedule          string           `json:"schedule"`
	Enabled           bool             `json:"enabled"`
	Detection         DetectionMode    `json:"detection"`
	Conflict          ConflictStrategy `json:"conflict"`
	PropagateDelete   bool             `json:"propagate_delete"`
	IncludePatterns   []string         `json:"include_patterns"`
	ExcludePatterns   []string         `json:"exclude_patterns"`
	Notes             string           `json:"notes"`
}

func (s *Store) Create(p CreateParams) (TaskRecord, error) {
	now := s.now()

	rec := TaskRecord{
		ID:                uuid.NewString(),
		Name:              p.Name,
		Direction:         p.Direction,
		GroupID:           p.GroupID,
		GroupName:         p.GroupName,
		TenantID:          p.TenantID,
		TenantName:        p.TenantName,
		RemoteFolderToken: p.RemoteFolderToken,
		RemoteLabel:       p.RemoteLabel,
		LocalPath:         p.LocalPath,
		Schedule:          p.Schedule,
		Enabled:           p.Enabled,
		Detection:         p.Detection,
		Conflict:          p.Conflict,
		PropagateDelete:   p.PropagateDelete,
		IncludePatterns:   p.IncludePatterns,
		ExcludePatterns:   p.ExcludePatterns,
		Notes:             p.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastStatus:        StatusIdle,
		LinkedTransferIDs: []string{},
	}

	s.mu.Lock()
	s.tasks[rec.ID] = &rec
	snapshot := rec
	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return TaskRecord{}, err
	}

	return snapshot, nil
}

// Update applies a mutation, bumps the timestamp, and persists.
func (s *Store) Update(id string, mutate func(*TaskRecord)) (TaskRecord, error) {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()

		return TaskRecord{}, ErrTaskNotFound
	}

	mutate(t)
	t.UpdatedAt = s.now()
	snapshot := *t

	s.mu.Unlock()

	if err := s.persistTasks(); err != nil {
		return TaskRecord{}, err
	}

	return snapshot, nil
}

// UpdateParams applies a partial edit. Changing the direction, remote
// folder, or local path resets the snapshots so the next run treats the
// new pairing as a first run.
type UpdateParams struct {
	TaskID            string            `json:"task_id"`
	Name              *string           `json:"name"`
	Direction         *Direction        `json:"direction"`
	GroupID           *string           `json:"group_id"`
	GroupName         *string           `json:"group_name"`
	TenantID          *string           `json:"tenant_id"`
	TenantName        *string           `json:"tenant_name"`
	RemoteFolderToken *string           `json:"remote_folder_token"`
	RemoteLabel       *string           `json:"remote_label"`
	LocalPath         *string           `json:"local_path"`
	Schedule          *string           `json:"schedule"`
	Enabled           *bool             `json:"enabled"`
	Detection         *DetectionMode    `json:"detection"`
	Conflict          *ConflictStrategy `json:"conflict"`
	PropagateDelete   *bool             `json:"propagate_delete"`
	IncludePatterns   *[]string         `json:"include_patterns"`
	ExcludePatterns   *[]string         `json:"exclude_patterns"`
	Notes             *string           `json:"notes"`
}

func (s *Store) ApplyUpdate(p UpdateParams) (TaskRecord, error) {
	return s.Update(p.TaskID, func(t *TaskRecord) {
		var resetReason string

		if p.Name != nil {
			t.Name = *p.Name
		}

		if p.Direction != nil {
			if t.Direction != *p.Direction {
				resetReason = "同步方向已更新，等待重新同步。"
			}

			t.Direction = *p.Direction
		}

		if p.GroupID != nil {
			t.GroupID = *p.GroupID
		}

		if p.GroupName != nil {
			t.GroupName = *p.GroupName
		}

		if p.TenantID != nil {
			t.TenantID = *p.TenantID
		}

		if p.TenantName != nil {
			t.TenantName = *p.TenantName
		}

		if p.RemoteFolderToken != nil {
			if t.RemoteFolderToken != *p.RemoteFolderToken && resetReason == "" {
				resetReason = "云端目录已更新，等待重新同步。"
			}

			t.RemoteFolderToken = *p.RemoteFolderToken
		}

		if p.RemoteLabel != nil {
			t.RemoteLabel = *p.RemoteLabel
		}

		if p.LocalPath != nil {
			if t.LocalPath != *p.LocalPath && resetReason == "" {
				resetReason = "本地目录已更新，等待重新同步。"
			}

			t.LocalPath = *p.LocalPath
		}

		if p.Schedule != nil {
			t.Schedule = *p.Schedule
		}

		if p.Enabled != nil {
			t.Enabled = *p.Enabled
		}

		if p.Detection != nil {
			t.Detection = *p.Detection
		}

		if p.Conflict != nil {
			t.Conflict = *p.Conflict
		}

		if p.PropagateDelete != nil {
			t.PropagateDelete = *p.PropagateDelete
		}

		if p.IncludePatterns != nil {
			t.IncludePatterns = *p.IncludePatterns
		}

		if p.ExcludePatterns != nil {
			t.ExcludePatterns = *p.ExcludePatterns
		}

		if p.Notes != nil {
			t.Notes = *p.Notes
		}

		if resetReason != "" {
			resetSnapshots(t, resetReason)
		}
	})
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()

	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()

		return ErrTaskNotFound
	}

	delete(s.tasks, id)
	s.mu.Unlock()

	return s.persistTasks()
}

func (s *Store) Get(id string) (TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return TaskRecord{}, ErrTaskNotFound
	}

	return *t, nil
}

// List returns every task, most recently updated first.
func (s *Store) List() []TaskRecord {
	s.mu.RLock()

	out := make([]TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}

	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	return out
}

// AppendLog records one run-history line, draining the oldest entries past
// the cap, and persists the log store.
func (s *Store) AppendLog(taskID, level, message string) error {
	entry := LogEntry{
		TaskID:    taskID,
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
	}

	s.mu.Lock()

	s.logs = append(s.logs, entry)
	if over := len(s.logs) - maxLogEntries; over > 0 {
		s.logs = append([]LogEntry(nil), s.logs[over:]...)
	}

	s.mu.Unlock()

	return s.persistLogs()
}

// Logs returns a task's history, newest first. The limit defaults to 100
// and is capped at 500.
func (s *Store) Logs(taskID string, limit int) []LogEntry {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	s.mu.RLock()

	filtered := make([]LogEntry, 0, limit)
	for _, l := range s.logs {
		if l.TaskID == taskID {
			filtered = append(filtered, l)
		}
	}

	s.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	return filtered
}
