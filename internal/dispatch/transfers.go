package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/feisync/feisync/internal/access"
	"github.com/feisync/feisync/internal/transfer"
)

// Transfer records are not partitioned by tenant, so listing and control
// stay admin-only.
func (d *Dispatcher) handleListTransferTasks(_ context.Context, s access.Scope, _ json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	return d.transfers.List(), nil
}

type clearHistoryPayload struct {
	Mode string `json:"mode"`
}

func (d *Dispatcher) handleClearTransferHistory(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	p, err := parseOptionalPayload[clearHistoryPayload](payload)
	if err != nil {
		return nil, err
	}

	removed, err := d.transfers.ClearHistory(p.Mode)
	if err != nil {
		return nil, err
	}

	return map[string]int{"removed": removed}, nil
}

type taskIDPayload struct {
	TaskID string `json:"task_id"`
}

func parseTaskID(payload json.RawMessage) (string, error) {
	p, err := parsePayload[taskIDPayload](payload)
	if err != nil {
		return "", err
	}

	if err := requireField(p.TaskID, "task_id"); err != nil {
		return "", err
	}

	return p.TaskID, nil
}

func (d *Dispatcher) handlePauseActiveTransfer(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	return d.transfers.Pause(id)
}

func (d *Dispatcher) handleCancelTransferTask(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	return d.transfers.Cancel(id)
}

func (d *Dispatcher) handleDeleteTransferTask(_ context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	if err := s.EnsureAdmin(); err != nil {
		return nil, err
	}

	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	if err := d.transfers.Delete(id); err != nil {
		return nil, err
	}

	return true, nil
}

// handleResumeTransferTask continues a paused run in place, or re-issues a
// finished/failed one from its persisted continuation data.
func (d *Dispatcher) handleResumeTransferTask(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	id, err := parseTaskID(payload)
	if err != nil {
		return nil, err
	}

	if d.transfers.IsActive(id) {
		return d.transfers.ResumeActive(id)
	}

	t, err := d.transfers.Get(id)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case transfer.KindFileUpload:
		if err := d.resumeFileUpload(ctx, s, t); err != nil {
			return nil, err
		}
	case transfer.KindFileDownload:
		if err := d.resumeFileDownload(ctx, s, t); err != nil {
			return nil, err
		}
	default:
		return nil, transfer.ErrKindNotResumble
	}

	return d.transfers.Get(id)
}

func (d *Dispatcher) resumeFileUpload(ctx context.Context, s access.Scope, t transfer.Task) error {
	if t.TenantID == "" {
		return errors.New("任务缺少企业实例信息")
	}

	if err := s.AssertTenant(d.registry, t.TenantID); err != nil {
		return err
	}

	parent := t.ParentToken
	if parent == "" && t.Resume != nil {
		parent = t.Resume.ParentToken
	}

	if parent == "" {
		return errors.New("任务缺少目标目录")
	}

	local := t.LocalPath
	if local == "" && t.Resume != nil {
		local = t.Resume.FilePath
	}

	if local == "" {
		return errors.New("任务缺少本地路径")
	}

	cl, ten, err := d.acquire(ctx, t.TenantID)
	if err != nil {
		return err
	}

	if err := ten.EnsureWritable(); err != nil {
		return err
	}

	token, err := d.transfers.UploadFile(ctx, cl, t.TenantID, parent, local, t.Name, &t)
	if err != nil {
		return err
	}

	d.registerTokens(t.TenantID, token)

	return nil
}

func (d *Dispatcher) resumeFileDownload(ctx context.Context, s access.Scope, t transfer.Task) error {
	if t.TenantID == "" {
		return errors.New("任务缺少企业实例信息")
	}

	if err := s.AssertTenant(d.registry, t.TenantID); err != nil {
		return err
	}

	token := t.ResourceToken
	if token == "" && t.Resume != nil {
		token = t.Resume.Token
	}

	if token == "" {
		return errors.New("任务缺少文件 token")
	}

	target := t.LocalPath
	if t.Resume != nil && t.Resume.TargetPath != "" {
		target = t.Resume.TargetPath
	}

	if target == "" {
		return errors.New("任务缺少下载目标路径")
	}

	destDir := filepath.Dir(target)
	if destDir == "" || destDir == "." {
		return errors.New("无法解析下载目录")
	}

	cl, _, err := d.acquire(ctx, t.TenantID)
	if err != nil {
		return err
	}

	_, err = d.transfers.DownloadFile(ctx, cl, t.TenantID, token, destDir, filepath.Base(target), &t, t.Size)

	return err
}

type uploadFilePayload struct {
	TenantID    string `json:"tenant_id"`
	ParentToken string `json:"parent_token"`
	LocalPath   string `json:"local_path"`
	FileName    string `json:"file_name"`
}

func (d *Dispatcher) handleUploadFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[uploadFilePayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.ParentToken, "parent_token"},
		{p.LocalPath, "local_path"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	name := p.FileName
	if name == "" {
		name = baseName(p.LocalPath)
	}

	if name == "" {
		return nil, errors.New("无法解析文件名")
	}

	cl, t, err := d.acquireForEntry(ctx, s, p.TenantID, p.ParentToken)
	if err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	token, err := d.transfers.UploadFile(ctx, cl, t.ID, p.ParentToken, p.LocalPath, name, nil)
	if err != nil {
		return nil, err
	}

	d.registerTokens(t.ID, token)

	return map[string]string{"file_token": token}, nil
}

type uploadFolderPayload struct {
	TenantID    string `json:"tenant_id"`
	ParentToken string `json:"parent_token"`
	LocalPath   string `json:"local_path"`
}

func (d *Dispatcher) handleUploadFolder(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[uploadFolderPayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.ParentToken, "parent_token"},
		{p.LocalPath, "local_path"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(p.LocalPath)
	if err != nil || !info.IsDir() {
		return nil, errors.New("选择的路径不是文件夹")
	}

	cl, t, err := d.acquireForEntry(ctx, s, p.TenantID, p.ParentToken)
	if err != nil {
		return nil, err
	}

	if err := t.EnsureWritable(); err != nil {
		return nil, err
	}

	if err := d.transfers.UploadFolder(ctx, cl, t.ID, p.ParentToken, p.LocalPath); err != nil {
		return nil, err
	}

	return true, nil
}

type downloadFilePayload struct {
	Token    string `json:"token"`
	DestDir  string `json:"dest_dir"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}

func (d *Dispatcher) handleDownloadFile(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[downloadFilePayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Token, "token"},
		{p.DestDir, "dest_dir"},
		{p.FileName, "file_name"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	path, err := d.transfers.DownloadFile(ctx, cl, t.ID, p.Token, p.DestDir, p.FileName, nil, p.Size)
	if err != nil {
		return nil, err
	}

	return map[string]string{"path": path}, nil
}

type downloadFolderPayload struct {
	Token      string `json:"token"`
	DestDir    string `json:"dest_dir"`
	FolderName string `json:"folder_name"`
}

func (d *Dispatcher) handleDownloadFolder(ctx context.Context, s access.Scope, payload json.RawMessage) (any, error) {
	p, err := parsePayload[downloadFolderPayload](payload)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ value, name string }{
		{p.Token, "token"},
		{p.DestDir, "dest_dir"},
	} {
		if err := requireField(f.value, f.name); err != nil {
			return nil, err
		}
	}

	name, err := normalizeNodeName(p.FolderName)
	if err != nil {
		return nil, err
	}

	cl, t, err := d.acquireForToken(ctx, s, p.Token)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(p.DestDir, name)
	if err := d.transfers.DownloadFolder(ctx, cl, t.ID, p.Token, target); err != nil {
		return nil, err
	}

	return map[string]string{"path": target}, nil
}
