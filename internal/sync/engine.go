package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/feisync/feisync/internal/tenant"
	"github.com/feisync/feisync/internal/transfer"
)

// Resolver produces a ready drive client for a tenant, refreshing its
// token if needed. The tenant snapshot is returned alongside so runs can
// check the write permission.
type Resolver func(ctx context.Context, tenantID string) (Client, tenant.Tenant, error)

// Engine executes sync runs over the task store. One run per task at a
// time; a trigger while the task is running is rejected.
type Engine struct {
	store     *Store
	transfers *transfer.Manager
	resolve   Resolver
	registrar transfer.Registrar
	logger    *slog.Logger

	mu      stdsync.Mutex
	running map[string]bool

	now func() time.Time
}

func NewEngine(store *Store, transfers *transfer.Manager, resolve Resolver, registrar transfer.Registrar, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:     store,
		transfers: transfers,
		resolve:   resolve,
		registrar: registrar,
		logger:    logger,
		running:   make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) tryAcquire(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running[taskID] {
		return false
	}

	e.running[taskID] = true

	return true
}

func (e *Engine) release(taskID string) {
	e.mu.Lock()
	delete(e.running, taskID)
	e.mu.Unlock()
}

// Trigger runs one task to completion and returns its final record.
func (e *Engine) Trigger(ctx context.Context, taskID string) (TaskRecord, error) {
	if !e.tryAcquire(taskID) {
		return TaskRecord{}, ErrTaskRunning
	}
	defer e.release(taskID)

	rec, err := e.store.Get(taskID)
	if err != nil {
		return TaskRecord{}, err
	}

	now := e.now()

	if _, err := e.store.Update(taskID, func(t *TaskRecord) {
		t.LastStatus = StatusRunning
		t.LastRunAt = &now
		t.LastMessage = "同步任务准备执行"
	}); err != nil {
		return TaskRecord{}, err
	}

	var runErr error

	switch rec.Direction {
	case DirectionLocalToCloud:
		runErr = e.runLocalToCloud(ctx, taskID)
	case DirectionCloudToLocal:
		runErr = e.runCloudToLocal(ctx, taskID)
	case DirectionBidirectional:
		runErr = e.runBidirectional(ctx, taskID)
	default:
		runErr = fmt.Errorf("sync: unknown direction %q", rec.Direction)
	}

	if runErr != nil {
		e.log(taskID, "error", runErr.Error())

		finishedAt := e.now()

		if _, err := e.store.Update(taskID, func(t *TaskRecord) {
			t.LastStatus = StatusFailed
			t.LastMessage = runErr.Error()
			t.LastRunAt = &finishedAt
			t.ConsecutiveFailures++
		}); err != nil {
			e.logger.Error("recording sync failure", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}

		return TaskRecord{}, runErr
	}

	e.log(taskID, "info", "同步任务完成")

	return e.store.Get(taskID)
}

func (e *Engine) log(taskID, level, message string) {
	if err := e.store.AppendLog(taskID, level, message); err != nil {
		e.logger.Warn("sync log append failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) runLocalToCloud(ctx context.Context, taskID string) error {
	rec, err := e.store.Get(taskID)
	if err != nil {
		return err
	}

	if rec.Direction != DirectionLocalToCloud {
		e.log(taskID, "warn", "当前任务方向不是本地 → 云端，执行已跳过")

		return nil
	}

	cl, ten, err := e.resolve(ctx, rec.TenantID)
	if err != nil {
		return err
	}

	if err := ten.EnsureWritable(); err != nil {
		return err
	}

	if !rec.PropagateDelete {
		e.log(taskID, "info", "当前任务未启用“同步删除”，仅会上传新增/更新文件。")
	}

	f := newFilter(rec.IncludePatterns, rec.ExcludePatterns)

	e.log(taskID, "info", fmt.Sprintf("扫描本地目录 %s", rec.LocalPath))

	localEntries, err := scanLocal(rec.LocalPath, f)
	if err != nil {
		return err
	}

	e.log(taskID, "info", fmt.Sprintf("本地文件数 %d", len(localEntries)))

	remoteEntries, remoteDirs, err := scanRemote(ctx, cl, rec.RemoteFolderToken, f)
	if err != nil {
		return err
	}

	uploads := diffAgainst(localEntries, remoteEntries)

	canDeleteRemote := rec.PropagateDelete && rec.hasSnapshots()
	if rec.PropagateDelete && !canDeleteRemote {
		e.log(taskID, "info", "首次运行尚未建立同步快照，暂不执行云端删除。")
	}

	var removals []SnapshotEntry
	if canDeleteRemote {
		removals = onlyInFirst(remoteEntries, localEntries)
	}

	if len(uploads) == 0 && len(removals) == 0 {
		e.log(taskID, "info", "云端已是最新，无需上传")

		return e.finishRun(taskID, localEntries, remoteEntries, "云端已是最新")
	}

	summaryLine := fmt.Sprintf("需上传 %d 个文件", len(uploads))
	if rec.PropagateDelete {
		summaryLine += fmt.Sprintf(", 需删除云端 %d 个", len(removals))
	}

	e.log(taskID, "info", summaryLine)

	uploaded := 0

	for _, entry := range uploads {
		parentToken, err := e.ensureRemoteParent(ctx, cl, rec.TenantID, remoteDirs, entry.Path)
		if err != nil {
			return err
		}

		e.log(taskID, "info", fmt.Sprintf("上传 %s", entry.Path))

		localFile := filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path))
		if _, err := e.transfers.UploadFile(ctx, cl, rec.TenantID, parentToken, localFile, path.Base(entry.Path), nil); err != nil {
			return err
		}

		uploaded++
	}

	deletedRemote := 0

	for _, entry := range removals {
		if entry.Token == "" {
			continue
		}

		e.log(taskID, "info", fmt.Sprintf("删除云端 %s", entry.Path))

		if err := cl.DeleteFile(ctx, entry.Token, entryTypeOrFile(entry)); err != nil {
			return err
		}

		deletedRemote++
	}

	summary := fmt.Sprintf("上传完成，共 %d 个文件", uploaded)
	if rec.PropagateDelete {
		summary = fmt.Sprintf("上传 %d 个，删除云端 %d 个", uploaded, deletedRemote)
	}

	e.log(taskID, "info", summary)

	remoteAfter, _, err := scanRemote(ctx, cl, rec.RemoteFolderToken, f)
	if err != nil {
		return err
	}

	return e.finishRun(taskID, localEntries, remoteAfter, summary)
}

func (e *Engine) runCloudToLocal(ctx context.Context, taskID string) error {
	rec, err := e.store.Get(taskID)
	if err != nil {
		return err
	}

	if rec.Direction != DirectionCloudToLocal {
		e.log(taskID, "warn", "当前任务方向不是云端 → 本地，执行已跳过")

		return nil
	}

	cl, ten, err := e.resolve(ctx, rec.TenantID)
	if err != nil {
		return err
	}

	if err := ten.EnsureWritable(); err != nil {
		return err
	}

	if !rec.PropagateDelete {
		e.log(taskID, "info", "当前任务未启用“同步删除”，仅会下载新增/更新文件。")
	}

	f := newFilter(rec.IncludePatterns, rec.ExcludePatterns)

	e.log(taskID, "info", "扫描云端文件")

	remoteEntries, remoteDirs, err := scanRemote(ctx, cl, rec.RemoteFolderToken, f)
	if err != nil {
		return err
	}

	e.log(taskID, "info", fmt.Sprintf("云端文件数 %d", len(remoteEntries)))

	e.log(taskID, "info", "扫描本地文件")

	if _, err := os.Stat(rec.LocalPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(rec.LocalPath, 0o755); err != nil {
			return fmt.Errorf("creating local directory: %w", err)
		}

		e.log(taskID, "info", fmt.Sprintf("本地目录不存在，已创建 %s", rec.LocalPath))
	}

	localEntries, err := scanLocal(rec.LocalPath, f)
	if err != nil {
		return err
	}

	toDownload := diffAgainst(remoteEntries, localEntries)

	canDeleteLocal := rec.PropagateDelete && rec.hasSnapshots()
	if rec.PropagateDelete && !canDeleteLocal {
		e.log(taskID, "info", "首次运行尚未建立同步快照，暂不执行本地删除。")
	}

	var toDelete []SnapshotEntry
	if canDeleteLocal {
		toDelete = onlyInFirst(localEntries, remoteEntries)
	}

	summaryLine := fmt.Sprintf("需下载 %d 个文件", len(toDownload))
	if rec.PropagateDelete {
		summaryLine += fmt.Sprintf(", 待删除本地 %d 个", len(toDelete))
	}

	e.log(taskID, "info", summaryLine)

	if len(toDownload) == 0 && len(toDelete) == 0 {
		e.log(taskID, "info", "本地目录已是最新，无需下载")

		return e.finishRun(taskID, localEntries, remoteEntries, "本地目录已是最新")
	}

	for rel := range remoteDirs {
		if rel == "" {
			continue
		}

		if err := os.MkdirAll(filepath.Join(rec.LocalPath, filepath.FromSlash(rel)), 0o755); err != nil {
			return fmt.Errorf("creating local directory: %w", err)
		}
	}

	downloaded := 0

	for _, entry := range toDownload {
		if entry.Token == "" {
			return fmt.Errorf("%s 缺少远端 token", entry.Path)
		}

		localPath := filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path))

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("creating local directory: %w", err)
		}

		e.log(taskID, "info", fmt.Sprintf("下载 %s", entry.Path))

		var size int64
		if entry.Size != nil {
			size = *entry.Size
		}

		if _, err := e.transfers.DownloadFile(ctx, cl, rec.TenantID, entry.Token, filepath.Dir(localPath), path.Base(entry.Path), nil, size); err != nil {
			return err
		}

		downloaded++
	}

	deleted := 0

	for _, entry := range toDelete {
		removed, err := removeLocal(filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path)))
		if err != nil {
			return err
		}

		if removed {
			e.log(taskID, "info", fmt.Sprintf("删除本地 %s", entry.Path))

			deleted++
		}
	}

	e.log(taskID, "info", fmt.Sprintf("下载 %d 个文件，删除 %d 个文件", downloaded, deleted))

	refreshedLocal, err := scanLocal(rec.LocalPath, f)
	if err != nil {
		return err
	}

	return e.finishRun(taskID, refreshedLocal, remoteEntries, fmt.Sprintf("下载 %d 个，删除 %d 个", downloaded, deleted))
}

func (e *Engine) runBidirectional(ctx context.Context, taskID string) error {
	rec, err := e.store.Get(taskID)
	if err != nil {
		return err
	}

	if rec.Direction != DirectionBidirectional {
		e.log(taskID, "warn", "当前任务不是双向同步，执行已跳过")

		return nil
	}

	cl, _, err := e.resolve(ctx, rec.TenantID)
	if err != nil {
		return err
	}

	if !rec.PropagateDelete {
		e.log(taskID, "info", "未启用“同步删除”，双向同步仅比对新增/修改文件。")
	}

	f := newFilter(rec.IncludePatterns, rec.ExcludePatterns)

	e.log(taskID, "info", "双向同步：扫描本地与云端")

	localEntries, err := scanLocal(rec.LocalPath, f)
	if err != nil {
		return err
	}

	remoteEntries, remoteDirs, err := scanRemote(ctx, cl, rec.RemoteFolderToken, f)
	if err != nil {
		return err
	}

	p := planBidirectional(localEntries, remoteEntries, rec.LocalSnapshot, rec.RemoteSnapshot, rec.PropagateDelete, rec.Conflict)

	for _, msg := range p.conflicts {
		e.log(taskID, "warn", msg)
	}

	if p.empty() {
		note := "未检测到差异"
		if len(p.conflicts) > 0 {
			note = fmt.Sprintf("存在 %d 个冲突，未执行变更", len(p.conflicts))
		}

		e.log(taskID, "info", note)

		return e.finishRun(taskID, localEntries, remoteEntries, note)
	}

	uploaded := 0

	for _, entry := range p.uploads {
		parentToken, err := e.ensureRemoteParent(ctx, cl, rec.TenantID, remoteDirs, entry.Path)
		if err != nil {
			return err
		}

		e.log(taskID, "info", fmt.Sprintf("上传 %s", entry.Path))

		localFile := filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path))
		if _, err := e.transfers.UploadFile(ctx, cl, rec.TenantID, parentToken, localFile, path.Base(entry.Path), nil); err != nil {
			return err
		}

		uploaded++
	}

	downloaded := 0

	for _, entry := range p.downloads {
		if entry.Token == "" {
			return fmt.Errorf("%s 缺少远端 token", entry.Path)
		}

		localPath := filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path))

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("creating local directory: %w", err)
		}

		e.log(taskID, "info", fmt.Sprintf("下载 %s", entry.Path))

		var size int64
		if entry.Size != nil {
			size = *entry.Size
		}

		if _, err := e.transfers.DownloadFile(ctx, cl, rec.TenantID, entry.Token, filepath.Dir(localPath), path.Base(entry.Path), nil, size); err != nil {
			return err
		}

		downloaded++
	}

	deletedRemote := 0

	for _, entry := range p.deleteRemote {
		if entry.Token == "" {
			continue
		}

		e.log(taskID, "info", fmt.Sprintf("删除云端 %s", entry.Path))

		if err := cl.DeleteFile(ctx, entry.Token, entryTypeOrFile(entry)); err != nil {
			return err
		}

		deletedRemote++
	}

	deletedLocal := 0

	for _, entry := range p.deleteLocal {
		removed, err := removeLocal(filepath.Join(rec.LocalPath, filepath.FromSlash(entry.Path)))
		if err != nil {
			return err
		}

		if removed {
			e.log(taskID, "info", fmt.Sprintf("删除本地 %s", entry.Path))

			deletedLocal++
		}
	}

	refreshedLocal, err := scanLocal(rec.LocalPath, f)
	if err != nil {
		return err
	}

	refreshedRemote, _, err := scanRemote(ctx, cl, rec.RemoteFolderToken, f)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("上传 %d、下载 %d、删除本地 %d、删除云端 %d", uploaded, downloaded, deletedLocal, deletedRemote)

	e.log(taskID, "info", summary)

	return e.finishRun(taskID, refreshedLocal, refreshedRemote, summary)
}

// finishRun persists the new baselines and the success state.
func (e *Engine) finishRun(taskID string, local, remote []SnapshotEntry, message string) error {
	if local == nil {
		local = []SnapshotEntry{}
	}

	if remote == nil {
		remote = []SnapshotEntry{}
	}

	now := e.now()

	_, err := e.store.Update(taskID, func(t *TaskRecord) {
		t.LocalSnapshot = local
		t.RemoteSnapshot = remote
		t.LastStatus = StatusSuccess
		t.LastMessage = message
		t.LastRunAt = &now
		t.ConsecutiveFailures = 0
	})

	return err
}

// ensureRemoteParent resolves the folder token for a file's parent chain,
// creating missing folders and extending the directory cache as it goes.
func (e *Engine) ensureRemoteParent(ctx context.Context, cl Client, tenantID string, cache map[string]string, relPath string) (string, error) {
	current := cache[""]

	parent := path.Dir(relPath)
	if parent == "." || parent == "" {
		return current, nil
	}

	var key string

	for _, seg := range splitPath(parent) {
		if key == "" {
			key = seg
		} else {
			key = key + "/" + seg
		}

		if token, ok := cache[key]; ok {
			current = token

			continue
		}

		token, err := cl.CreateFolder(ctx, seg, current)
		if err != nil {
			return "", err
		}

		if e.registrar != nil {
			if err := e.registrar.Register(tenantID, token); err != nil {
				e.logger.Warn("resource index update failed", slog.String("error", err.Error()))
			}
		}

		cache[key] = token
		current = token
	}

	return current, nil
}

func splitPath(p string) []string {
	var out []string

	for _, seg := range strings.Split(p, "/") {
		if seg != "" && seg != "." {
			out = append(out, seg)
		}
	}

	return out
}

func entryTypeOrFile(e SnapshotEntry) string {
	if e.EntryType != "" {
		return e.EntryType
	}

	return "file"
}

// removeLocal deletes a file or directory tree, reporting whether
// anything existed to delete.
func removeLocal(target string) (bool, error) {
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("inspecting local path: %w", err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			return false, fmt.Errorf("removing local directory: %w", err)
		}

		return true, nil
	}

	if err := os.Remove(target); err != nil {
		return false, fmt.Errorf("removing local file: %w", err)
	}

	return true, nil
}
