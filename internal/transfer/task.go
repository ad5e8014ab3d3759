package transfer

import (
	"errors"
	"time"
)

// Direction is the data-flow direction of a transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Kind refines the direction with the file/folder distinction.
type Kind string

const (
	KindFileUpload     Kind = "file_upload"
	KindFolderUpload   Kind = "folder_upload"
	KindFileDownload   Kind = "file_download"
	KindFolderDownload Kind = "folder_download"
)

// Status is the transfer task state machine.
//
//	pending → running → success
//	              ↓
//	            paused → running (via resume)
//	              ↓
//	            failed  (terminal; resume re-issues a new run)
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Resume modes.
const (
	ResumeModeUpload   = "upload_file"
	ResumeModeDownload = "download_file"
)

// Task-level errors.
var (
	ErrTaskNotFound    = errors.New("任务不存在")
	ErrTaskBusy        = errors.New("任务执行中，无法删除")
	ErrEmptyFile       = errors.New("文件内容为空")
	ErrKindNotResumble = errors.New("暂不支持重新执行该类型任务")
)

// abnormalTerminationMsg marks tasks found mid-flight at process start.
const abnormalTerminationMsg = "上次运行异常终止，已停止。"

// Resume is the continuation data that lets a failed transfer restart
// where it stopped. Mode selects which field group is meaningful.
type Resume struct {
	Mode string `json:"mode"`

	// Upload continuation: reattach to the server-side upload session.
	UploadID    string `json:"upload_id,omitempty"`
	BlockSize   int64  `json:"block_size,omitempty"`
	NextSeq     int    `json:"next_seq,omitempty"`
	ParentToken string `json:"parent_token,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Size        int64  `json:"size,omitempty"`

	// Download continuation: reattach to the byte offset in the temp file.
	TempPath   string `json:"temp_path,omitempty"`
	TargetPath string `json:"target_path,omitempty"`
	Downloaded int64  `json:"downloaded,omitempty"`
	Token      string `json:"token,omitempty"`
}

// Task is one persisted transfer record.
type Task struct {
	ID            string    `json:"id"`
	Direction     Direction `json:"direction"`
	Kind          Kind      `json:"kind"`
	Name          string    `json:"name"`
	TenantID      string    `json:"tenant_id,omitempty"`
	ParentToken   string    `json:"parent_token,omitempty"`
	ResourceToken string    `json:"resource_token,omitempty"`
	LocalPath     string    `json:"local_path,omitempty"`
	RemotePath    string    `json:"remote_path,omitempty"`
	Size          int64     `json:"size"`
	Transferred   int64     `json:"transferred"`
	Status        Status    `json:"status"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Resume        *Resume   `json:"resume,omitempty"`
}

// inFlight reports whether the task would be interrupted by process exit.
func (t *Task) inFlight() bool {
	return t.Status == StatusRunning || t.Status == StatusPending
}
