package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feisync/feisync/internal/drive"
	"github.com/feisync/feisync/internal/store"
)

// fakeDrive is an in-memory Client implementation recording upload traffic
// and serving canned download content.
type fakeDrive struct {
	blockSize int64

	uploadAllCalls int
	uploadAllData  []byte
	preparedID     string
	partSeqs       []int
	partData       map[int][]byte
	finishBlockNum int

	downloadContent []byte
	rangeOffsets    []int64

	createdFolders map[string]string // name → token
	listings       map[string][]drive.Entry
}

func newFakeDrive(blockSize int64) *fakeDrive {
	return &fakeDrive{
		blockSize:      blockSize,
		partData:       map[int][]byte{},
		createdFolders: map[string]string{},
		listings:       map[string][]drive.Entry{},
	}
}

func (f *fakeDrive) UploadAll(_ context.Context, _, _ string, data []byte) (string, error) {
	f.uploadAllCalls++
	f.uploadAllData = append([]byte(nil), data...)

	return "small-token", nil
}

func (f *fakeDrive) UploadPrepare(_ context.Context, _, _ string, size int64) (drive.PrepareResult, error) {
	f.preparedID = "session-1"
	blocks := int((size + f.blockSize - 1) / f.blockSize)

	return drive.PrepareResult{UploadID: f.preparedID, BlockSize: f.blockSize, BlockNum: blocks}, nil
}

func (f *fakeDrive) UploadPart(_ context.Context, _ string, seq int, _ string, chunk []byte) error {
	f.partSeqs = append(f.partSeqs, seq)
	f.partData[seq] = append([]byte(nil), chunk...)

	return nil
}

func (f *fakeDrive) UploadFinish(_ context.Context, _ string, blockNum int) (string, error) {
	f.finishBlockNum = blockNum

	return "big-token", nil
}

func (f *fakeDrive) DownloadRange(_ context.Context, _ string, offset int64) (io.ReadCloser, int64, error) {
	f.rangeOffsets = append(f.rangeOffsets, offset)
	rest := f.downloadContent[offset:]

	return io.NopCloser(bytes.NewReader(rest)), int64(len(rest)), nil
}

func (f *fakeDrive) ListFolder(_ context.Context, folderToken string) ([]drive.Entry, error) {
	return f.listings[folderToken], nil
}

func (f *fakeDrive) CreateFolder(_ context.Context, name, _ string) (string, error) {
	token := "folder-" + name
	f.createdFolders[name] = token

	return token, nil
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func TestUploadFile_SmallGoesThroughUploadAll(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	path := writeTempFile(t, 64)

	token, err := m.UploadFile(context.Background(), fd, "t1", "parent", path, "payload.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, "small-token", token)
	assert.Equal(t, 1, fd.uploadAllCalls)
	assert.Empty(t, fd.partSeqs)

	tasks := m.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusSuccess, tasks[0].Status)
	assert.Equal(t, tasks[0].Size, tasks[0].Transferred)
	assert.Nil(t, tasks[0].Resume)
}

func TestUploadFile_EmptyFileFails(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := m.UploadFile(context.Background(), fd, "t1", "parent", path, "empty.bin", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	tasks := m.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusFailed, tasks[0].Status)
}

// chunkedUpload drives a chunked upload by shrinking the small-file limit
// indirectly: the fake returns a tiny block size, so the test file must be
// larger than drive.SmallUploadLimit to take the chunked path. To keep the
// fixture small, this exercises runChunkedUpload directly.
func TestChunkedUpload_SequentialSeqsAndResumeState(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	data := []byte("abcdefghijklmnopqrstu") // 21 bytes → 6 parts of 4
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	task, err := m.CreateTask(Task{
		Direction: DirectionUpload,
		Kind:      KindFileUpload,
		Name:      "big.bin",
		TenantID:  "t1",
		LocalPath: path,
		Size:      int64(len(data)),
	})
	require.NoError(t, err)

	control := m.EnsureControl(task.ID)

	token, err := m.runChunkedUpload(context.Background(), fd, control, task, "parent", path, "big.bin", int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "big-token", token)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, fd.partSeqs)
	assert.Equal(t, 6, fd.finishBlockNum)
	assert.Equal(t, []byte("u"), fd.partData[5])

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Resume)
	assert.Equal(t, 6, got.Resume.NextSeq)
	assert.Equal(t, int64(len(data)), got.Transferred)
}

func TestChunkedUpload_ResumesFromPersistedSeq(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	data := []byte("abcdefghijklmnopqrstu")
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	task, err := m.CreateTask(Task{
		Direction: DirectionUpload,
		Kind:      KindFileUpload,
		Name:      "big.bin",
		TenantID:  "t1",
		LocalPath: path,
		Size:      int64(len(data)),
	})
	require.NoError(t, err)

	// Continuation state says parts 0..2 were already acknowledged.
	task, err = m.Update(task.ID, func(t *Task) {
		t.Resume = &Resume{
			Mode:      ResumeModeUpload,
			UploadID:  "session-old",
			BlockSize: 4,
			NextSeq:   3,
			FilePath:  path,
			FileName:  "big.bin",
			Size:      int64(len(data)),
		}
	})
	require.NoError(t, err)

	control := m.EnsureControl(task.ID)

	_, err = m.runChunkedUpload(context.Background(), fd, control, task, "parent", path, "big.bin", int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5}, fd.partSeqs)
	assert.Equal(t, []byte("mnop"), fd.partData[3])
	assert.Equal(t, 6, fd.finishBlockNum)
	assert.Empty(t, fd.preparedID, "resume must not open a new session")
}

func TestChunkedUpload_CancelStopsAtYield(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	data := []byte("abcdefgh")
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	task, err := m.CreateTask(Task{LocalPath: path, Size: int64(len(data))})
	require.NoError(t, err)

	control := m.EnsureControl(task.ID)
	control.Cancel()

	_, err = m.runChunkedUpload(context.Background(), fd, control, task, "parent", path, "big.bin", int64(len(data)))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, fd.partSeqs)
}

func TestDownloadFile_FullStream(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(0)
	fd.downloadContent = []byte("hello cloud file")

	dest := t.TempDir()

	path, err := m.DownloadFile(context.Background(), fd, "t1", "tok-f", dest, "a.txt", nil, 0)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fd.downloadContent, content)

	// No partial file remains.
	_, err = os.Stat(path + partialSuffix)
	assert.True(t, os.IsNotExist(err))

	tasks := m.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusSuccess, tasks[0].Status)
	assert.Equal(t, int64(len(fd.downloadContent)), tasks[0].Size)
	assert.Nil(t, tasks[0].Resume)
}

func TestDownloadFile_ResumesFromTempFile(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(0)
	fd.downloadContent = []byte("0123456789abcdef")

	dest := t.TempDir()
	temp := filepath.Join(dest, "a.txt"+partialSuffix)
	require.NoError(t, os.WriteFile(temp, fd.downloadContent[:6], 0o644))

	task, err := m.CreateTask(Task{
		Direction:     DirectionDownload,
		Kind:          KindFileDownload,
		Name:          "a.txt",
		TenantID:      "t1",
		ResourceToken: "tok-f",
		LocalPath:     filepath.Join(dest, "a.txt"),
		Size:          int64(len(fd.downloadContent)),
		Resume: &Resume{
			Mode:       ResumeModeDownload,
			TempPath:   temp,
			TargetPath: filepath.Join(dest, "a.txt"),
			Downloaded: 6,
			Token:      "tok-f",
			FileName:   "a.txt",
		},
	})
	require.NoError(t, err)

	path, err := m.DownloadFile(context.Background(), fd, "t1", "tok-f", dest, "a.txt", &task, int64(len(fd.downloadContent)))
	require.NoError(t, err)

	assert.Equal(t, []int64{6}, fd.rangeOffsets)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fd.downloadContent, content)
}

func TestDownloadFile_TempLengthUsedWhenOffsetUnrecorded(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(0)
	fd.downloadContent = []byte("0123456789")

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "b.bin"+partialSuffix), fd.downloadContent[:4], 0o644))

	_, err := m.DownloadFile(context.Background(), fd, "t1", "tok-b", dest, "b.bin", nil, 10)
	require.NoError(t, err)

	assert.Equal(t, []int64{4}, fd.rangeOffsets)
}

func TestUploadFolder_BFSCreatesTreeAndUploadsFiles(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(4)

	root := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bb"), 0o644))

	require.NoError(t, m.UploadFolder(context.Background(), fd, "t1", "parent", root))

	assert.Contains(t, fd.createdFolders, "proj")
	assert.Contains(t, fd.createdFolders, "sub")
	assert.Equal(t, 2, fd.uploadAllCalls)

	// One folder task plus one task per file.
	assert.Len(t, m.List(), 3)
}

func TestDownloadFolder_BFSMirrorsTree(t *testing.T) {
	m := newTestManager(t)
	fd := newFakeDrive(0)
	fd.downloadContent = []byte("xyz")

	size := int64(3)
	fd.listings["root-tok"] = []drive.Entry{
		{Token: "sub-tok", Name: "sub", Type: "folder"},
		{Token: "f1", Name: "a.txt", Type: "file", Size: &size},
	}
	fd.listings["sub-tok"] = []drive.Entry{
		{Token: "f2", Name: "b.txt", Type: "file", Size: &size},
	}

	target := filepath.Join(t.TempDir(), "mirror")
	require.NoError(t, m.DownloadFolder(context.Background(), fd, "t1", "root-tok", target))

	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt")} {
		content, err := os.ReadFile(filepath.Join(target, rel))
		require.NoError(t, err)
		assert.Equal(t, []byte("xyz"), content)
	}
}

// registrarRecorder captures resource index registrations.
type registrarRecorder struct {
	tokens map[string]string
}

func (r *registrarRecorder) Register(tenantID string, tokens ...string) error {
	if r.tokens == nil {
		r.tokens = map[string]string{}
	}

	for _, tok := range tokens {
		r.tokens[tok] = tenantID
	}

	return nil
}

func TestUploadFile_RegistersToken(t *testing.T) {
	rec := &registrarRecorder{}

	m, err := NewManager(store.NewDir(t.TempDir()), rec, slog.Default())
	require.NoError(t, err)

	fd := newFakeDrive(4)
	path := writeTempFile(t, 16)

	_, err = m.UploadFile(context.Background(), fd, "t1", "parent", path, "payload.bin", nil)
	require.NoError(t, err)

	assert.Equal(t, "t1", rec.tokens["small-token"])
}
