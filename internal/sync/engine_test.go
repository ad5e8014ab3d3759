package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/store"
	"github.com/feisync/feisync/internal/tenant"
	"github.com/feisync/feisync/internal/transfer"
)

// fakeRemote is an in-memory drive tree keyed by folder token.
type fakeRemote struct {
	children map[string][]drive.Entry
	contents map[string][]byte
	nextID   int
	deleted  []string
}

func newFakeRemote(rootToken string) *fakeRemote {
	return &fakeRemote{
		children: map[string][]drive.Entry{rootToken: nil},
		contents: map[string][]byte{},
	}
}

func (r *fakeRemote) newToken(prefix string) string {
	r.nextID++

	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

func (r *fakeRemote) addFile(parent, name string, data []byte) string {
	token := r.newToken("f")
	size := int64(len(data))
	r.children[parent] = append(r.children[parent], drive.Entry{
		Token: token, Name: name, Type: "file", Size: &size, ParentToken: parent,
	})
	r.contents[token] = data

	return token
}

func (r *fakeRemote) removeEntry(token string) {
	for parent, entries := range r.children {
		kept := entries[:0]

		for _, e := range entries {
			if e.Token != token {
				kept = append(kept, e)
			}
		}

		r.children[parent] = kept
	}

	delete(r.contents, token)
}

func (r *fakeRemote) ListFolder(_ context.Context, folderToken string) ([]drive.Entry, error) {
	return r.children[folderToken], nil
}

func (r *fakeRemote) CreateFolder(_ context.Context, name, parentToken string) (string, error) {
	token := r.newToken("fld")
	r.children[parentToken] = append(r.children[parentToken], drive.Entry{
		Token: token, Name: name, Type: "folder", ParentToken: parentToken,
	})
	r.children[token] = nil

	return token, nil
}

func (r *fakeRemote) UploadAll(_ context.Context, fileName, parentToken string, data []byte) (string, error) {
	return r.addFile(parentToken, fileName, data), nil
}

func (r *fakeRemote) UploadPrepare(_ context.Context, _, _ string, size int64) (drive.PrepareResult, error) {
	return drive.PrepareResult{UploadID: "up", BlockSize: size, BlockNum: 1}, nil
}

func (r *fakeRemote) UploadPart(_ context.Context, _ string, _ int, _ string, _ []byte) error {
	return nil
}

func (r *fakeRemote) UploadFinish(_ context.Context, _ string, _ int) (string, error) {
	return r.newToken("f"), nil
}

func (r *fakeRemote) DownloadRange(_ context.Context, token string, offset int64) (io.ReadCloser, int64, error) {
	data := r.contents[token][offset:]

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (r *fakeRemote) DeleteFile(_ context.Context, token, _ string) error {
	r.deleted = append(r.deleted, token)
	r.removeEntry(token)

	return nil
}

func (r *fakeRemote) fileNames(folderToken string) []string {
	var out []string

	for _, e := range r.children[folderToken] {
		out = append(out, e.Name)
	}

	return out
}

func (r *fakeRemote) findEntry(folderToken, name string) (drive.Entry, bool) {
	for _, e := range r.children[folderToken] {
		if e.Name == name {
			return e, true
		}
	}

	return drive.Entry{}, false
}

type engineFixture struct {
	engine *Engine
	store  *Store
	remote *fakeRemote
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	s, err := NewStore(store.NewDir(t.TempDir()), slog.Default())
	require.NoError(t, err)

	transfers, err := transfer.NewManager(store.NewDir(t.TempDir()), nil, slog.Default())
	require.NoError(t, err)

	remote := newFakeRemote("fld-root")

	resolve := func(_ context.Context, _ string) (Client, tenant.Tenant, error) {
		return remote, tenant.Tenant{Name: "测试企业", Permission: tenant.PermissionReadWrite}, nil
	}

	return &engineFixture{
		engine: NewEngine(s, transfers, resolve, nil, slog.Default()),
		store:  s,
		remote: remote,
	}
}

func (f *engineFixture) createTask(t *testing.T, direction Direction, localPath string) TaskRecord {
	t.Helper()

	rec, err := f.store.Create(CreateParams{
		Name:              "同步",
		Direction:         direction,
		TenantID:          "t1",
		RemoteFolderToken: "fld-root",
		RemoteLabel:       "根目录",
		LocalPath:         localPath,
		Detection:         DetectionMetadata,
		Conflict:          ConflictNewest,
		PropagateDelete:   true,
	})
	require.NoError(t, err)

	return rec
}

func logMessages(s *Store, taskID string) []string {
	var out []string

	for _, l := range s.Logs(taskID, maxLogLimit) {
		out = append(out, l.Message)
	}

	return out
}

func TestEngine_LocalToCloudFirstRun(t *testing.T) {
	f := newEngineFixture(t)

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "a.txt"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "sub", "b.txt"), []byte("bbbb"), 0o644))

	// Remote-only files must survive the first run: no snapshots yet.
	straggler := f.remote.addFile("fld-root", "old.txt", []byte("old"))

	rec := f.createTask(t, DirectionLocalToCloud, local)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, got.LastStatus)
	assert.Contains(t, f.remote.fileNames("fld-root"), "a.txt")
	assert.Contains(t, f.remote.fileNames("fld-root"), "sub")

	sub, ok := f.remote.findEntry("fld-root", "sub")
	require.True(t, ok)
	assert.Contains(t, f.remote.fileNames(sub.Token), "b.txt")

	assert.Empty(t, f.remote.deleted)
	assert.Contains(t, f.remote.contents[straggler], byte('o'))

	assert.NotNil(t, got.LocalSnapshot)
	assert.NotNil(t, got.RemoteSnapshot)

	msgs := logMessages(f.store, rec.ID)
	assert.Contains(t, msgs, "首次运行尚未建立同步快照，暂不执行云端删除。")
	assert.Contains(t, msgs, "同步任务完成")
}

func TestEngine_LocalToCloudSecondRunPropagatesDeletes(t *testing.T) {
	f := newEngineFixture(t)

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "keep.txt"), []byte("k"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "drop.txt"), []byte("d"), 0o644))

	rec := f.createTask(t, DirectionLocalToCloud, local)

	_, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	// The file vanishes locally; the second run deletes it remotely.
	require.NoError(t, os.Remove(filepath.Join(local, "drop.txt")))

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, got.LastStatus)
	assert.Len(t, f.remote.deleted, 1)
	assert.NotContains(t, f.remote.fileNames("fld-root"), "drop.txt")
}

func TestEngine_LocalToCloudUpToDate(t *testing.T) {
	f := newEngineFixture(t)

	local := t.TempDir()
	rec := f.createTask(t, DirectionLocalToCloud, local)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, "云端已是最新", got.LastMessage)
	assert.Contains(t, logMessages(f.store, rec.ID), "云端已是最新，无需上传")
}

func TestEngine_CloudToLocalDownloadsTree(t *testing.T) {
	f := newEngineFixture(t)

	f.remote.addFile("fld-root", "a.txt", []byte("cloud-a"))

	subToken, err := f.remote.CreateFolder(context.Background(), "sub", "fld-root")
	require.NoError(t, err)
	f.remote.addFile(subToken, "b.txt", []byte("cloud-b"))

	local := filepath.Join(t.TempDir(), "mirror")
	rec := f.createTask(t, DirectionCloudToLocal, local)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastStatus)

	content, err := os.ReadFile(filepath.Join(local, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cloud-a"), content)

	content, err = os.ReadFile(filepath.Join(local, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cloud-b"), content)

	assert.Contains(t, logMessages(f.store, rec.ID), fmt.Sprintf("本地目录不存在，已创建 %s", local))
}

func TestEngine_CloudToLocalSecondRunDeletesLocal(t *testing.T) {
	f := newEngineFixture(t)

	f.remote.addFile("fld-root", "keep.txt", []byte("k"))
	drop := f.remote.addFile("fld-root", "drop.txt", []byte("d"))

	local := filepath.Join(t.TempDir(), "mirror")
	rec := f.createTask(t, DirectionCloudToLocal, local)

	_, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	f.remote.removeEntry(drop)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastStatus)

	_, err = os.Stat(filepath.Join(local, "drop.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(local, "keep.txt"))
	assert.NoError(t, err)
}

func TestEngine_BidirectionalNoChanges(t *testing.T) {
	f := newEngineFixture(t)

	local := t.TempDir()
	rec := f.createTask(t, DirectionBidirectional, local)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, "未检测到差异", got.LastMessage)
}

func TestEngine_BidirectionalMerges(t *testing.T) {
	f := newEngineFixture(t)

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "local-only.txt"), []byte("L"), 0o644))

	f.remote.addFile("fld-root", "remote-only.txt", []byte("R"))

	rec := f.createTask(t, DirectionBidirectional, local)

	got, err := f.engine.Trigger(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastStatus)

	// Both sides end up with both files.
	assert.Contains(t, f.remote.fileNames("fld-root"), "local-only.txt")

	content, err := os.ReadFile(filepath.Join(local, "remote-only.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("R"), content)
}

func TestEngine_ConcurrentTriggerRejected(t *testing.T) {
	f := newEngineFixture(t)

	rec := f.createTask(t, DirectionLocalToCloud, t.TempDir())

	require.True(t, f.engine.tryAcquire(rec.ID))

	_, err := f.engine.Trigger(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrTaskRunning)

	f.engine.release(rec.ID)

	_, err = f.engine.Trigger(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestEngine_FailureRecordsStatusAndCounter(t *testing.T) {
	s, err := NewStore(store.NewDir(t.TempDir()), slog.Default())
	require.NoError(t, err)

	transfers, err := transfer.NewManager(store.NewDir(t.TempDir()), nil, slog.Default())
	require.NoError(t, err)

	resolve := func(_ context.Context, _ string) (Client, tenant.Tenant, error) {
		return nil, tenant.Tenant{}, fmt.Errorf("获取 token 失败")
	}

	e := NewEngine(s, transfers, resolve, nil, slog.Default())

	rec, err := s.Create(CreateParams{Name: "x", Direction: DirectionLocalToCloud, TenantID: "t1", LocalPath: "/nonexistent"})
	require.NoError(t, err)

	_, err = e.Trigger(context.Background(), rec.ID)
	require.Error(t, err)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.LastStatus)
	assert.Equal(t, "获取 token 失败", got.LastMessage)
	assert.Equal(t, 1, got.ConsecutiveFailures)

	_, err = e.Trigger(context.Background(), rec.ID)
	require.Error(t, err)

	got, err = s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures)
}

func TestEngine_ReadOnlyTenantRejected(t *testing.T) {
	s, err := NewStore(store.NewDir(t.TempDir()), slog.Default())
	require.NoError(t, err)

	transfers, err := transfer.NewManager(store.NewDir(t.TempDir()), nil, slog.Default())
	require.NoError(t, err)

	remote := newFakeRemote("fld-root")

	resolve := func(_ context.Context, _ string) (Client, tenant.Tenant, error) {
		return remote, tenant.Tenant{Name: "只读库", Permission: tenant.PermissionReadOnly}, nil
	}

	e := NewEngine(s, transfers, resolve, nil, slog.Default())

	rec, err := s.Create(CreateParams{
		Name:              "x",
		Direction:         DirectionLocalToCloud,
		TenantID:          "t1",
		RemoteFolderToken: "fld-root",
		LocalPath:         t.TempDir(),
	})
	require.NoError(t, err)

	_, err = e.Trigger(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "只读库")
}
