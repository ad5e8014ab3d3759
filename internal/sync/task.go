package sync

import (
	"errors"
	"time"
)

// Direction selects which side of a sync task is authoritative.
type Direction string

const (
	DirectionCloudToLocal  Direction = "cloud_to_local"
	DirectionLocalToCloud  Direction = "local_to_cloud"
	DirectionBidirectional Direction = "bidirectional"
)

// DetectionMode names how changes are detected. Size and mtime comparison
// backs all three modes today; checksum is accepted and stored for forward
// compatibility with task records that request it.
type DetectionMode string

const (
	DetectionMetadata DetectionMode = "metadata"
	DetectionSize     DetectionMode = "size"
	DetectionChecksum DetectionMode = "checksum"
)

// ConflictStrategy decides the winner when both sides changed.
type ConflictStrategy string

const (
	ConflictPreferRemote ConflictStrategy = "prefer_remote"
	ConflictPreferLocal  ConflictStrategy = "prefer_local"
	ConflictNewest       ConflictStrategy = "newest"
)

// TaskStatus is the last observed outcome of a task run.
type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusSuccess   TaskStatus = "success"
	StatusFailed    TaskStatus = "failed"
)

var (
	ErrTaskNotFound = errors.New("任务不存在")
	ErrTaskRunning  = errors.New("同步任务正在执行，请稍后再试")
)

// SnapshotEntry is one file observed by a scan. Size and ModifiedAt are
// optional: either side of a comparison may lack them.
type SnapshotEntry struct {
	Path       string     `json:"path"`
	Size       *int64     `json:"size,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Checksum   string     `json:"checksum,omitempty"`
	Token      string     `json:"token,omitempty"`
	EntryType  string     `json:"entry_type,omitempty"`
}

// TaskRecord is the persisted configuration and state of one sync task.
// The two snapshots hold the agreed state at the end of the last
// successful run; while either is nil the task has never completed and
// deletion propagation stays disabled.
type TaskRecord struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Direction           Direction        `json:"direction"`
	GroupID             string           `json:"group_id"`
	GroupName           string           `json:"group_name,omitempty"`
	TenantID            string           `json:"tenant_id"`
	TenantName          string           `json:"tenant_name,omitempty"`
	RemoteFolderToken   string           `json:"remote_folder_token"`
	RemoteLabel         string           `json:"remote_label"`
	LocalPath           string           `json:"local_path"`
	Schedule            string           `json:"schedule"`
	Enabled             bool             `json:"enabled"`
	Detection           DetectionMode    `json:"detection"`
	Conflict            ConflictStrategy `json:"conflict"`
	PropagateDelete     bool             `json:"propagate_delete"`
	IncludePatterns     []string         `json:"include_patterns"`
	ExcludePatterns     []string         `json:"exclude_patterns"`
	Notes               string           `json:"notes,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	NextRunAt           *time.Time       `json:"next_run_at,omitempty"`
	LastRunAt           *time.Time       `json:"last_run_at,omitempty"`
	LastStatus          TaskStatus       `json:"last_status"`
	LastMessage         string           `json:"last_message,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LinkedTransferIDs   []string         `json:"linked_transfer_ids"`
	LocalSnapshot       []SnapshotEntry  `json:"local_snapshot,omitempty"`
	RemoteSnapshot      []SnapshotEntry  `json:"remote_snapshot,omitempty"`
}

// hasSnapshots reports whether both baselines exist, the precondition for
// propagating deletions.
func (t *TaskRecord) hasSnapshots() bool {
	return t.LocalSnapshot != nil && t.RemoteSnapshot != nil
}

// resetSnapshots clears both baselines after a retarget so stale state can
// never drive deletions against the new target.
func resetSnapshots(t *TaskRecord, note string) {
	t.LocalSnapshot = nil
	t.RemoteSnapshot = nil
	t.LinkedTransferIDs = nil
	t.LastStatus = StatusIdle
	t.LastMessage = note
	t.LastRunAt = nil
	t.ConsecutiveFailures = 0
}

// LogEntry is one line of a task's run history.
type LogEntry struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
