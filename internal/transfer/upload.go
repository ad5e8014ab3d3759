package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/feisync/feisync/internal/drive"
)

// Client is the drive API surface the engine consumes. Satisfied by
// *drive.Client; tests provide fakes.
type Client interface {
	UploadAll(ctx context.Context, fileName, parentToken string, data []byte) (string, error)
	UploadPrepare(ctx context.Context, fileName, parentToken string, size int64) (drive.PrepareResult, error)
	UploadPart(ctx context.Context, uploadID string, seq int, fileName string, chunk []byte) error
	UploadFinish(ctx context.Context, uploadID string, blockNum int) (string, error)
	DownloadRange(ctx context.Context, token string, offset int64) (io.ReadCloser, int64, error)
	ListFolder(ctx context.Context, folderToken string) ([]drive.Entry, error)
	CreateFolder(ctx context.Context, name, parentToken string) (string, error)
}

// UploadFile uploads one local file as its own transfer task and returns
// the new file token. Passing a resume task reattaches to its persisted
// continuation state instead of creating a fresh record.
func (m *Manager) UploadFile(ctx context.Context, cl Client, tenantID, parentToken, localPath, displayName string, resumeTask *Task) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("reading local file: %w", err)
	}

	size := info.Size()

	var task Task

	if resumeTask != nil {
		task, err = m.Update(resumeTask.ID, func(t *Task) {
			t.Status = StatusRunning
			t.Message = ""
		})
	} else {
		task, err = m.CreateTask(Task{
			Direction:   DirectionUpload,
			Kind:        KindFileUpload,
			Name:        displayName,
			TenantID:    tenantID,
			ParentToken: parentToken,
			LocalPath:   localPath,
			Size:        size,
		})
	}

	if err != nil {
		return "", err
	}

	m.markActive(task.ID)
	control := m.EnsureControl(task.ID)

	if _, err := m.Update(task.ID, func(t *Task) { t.Status = StatusRunning }); err != nil {
		return "", err
	}

	fileToken, runErr := m.runFileUpload(ctx, cl, control, task, parentToken, localPath, displayName, size)

	m.finalize(task.ID, runErr)

	if runErr != nil {
		return "", runErr
	}

	m.register(tenantID, fileToken)

	m.logger.Info("upload complete",
		slog.String("task_id", task.ID),
		slog.String("name", displayName),
		slog.Int64("size", size),
	)

	return fileToken, nil
}

func (m *Manager) runFileUpload(ctx context.Context, cl Client, control *Control, task Task, parentToken, localPath, fileName string, size int64) (string, error) {
	if size == 0 {
		return "", ErrEmptyFile
	}

	if err := control.Wait(ctx); err != nil {
		return "", err
	}

	if size <= drive.SmallUploadLimit {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return "", fmt.Errorf("reading local file: %w", err)
		}

		token, err := cl.UploadAll(ctx, fileName, parentToken, data)
		if err != nil {
			return "", err
		}

		if _, err := m.Update(task.ID, func(t *Task) { t.Transferred = t.Size }); err != nil {
			return "", err
		}

		return token, nil
	}

	return m.runChunkedUpload(ctx, cl, control, task, parentToken, localPath, fileName, size)
}

func (m *Manager) runChunkedUpload(ctx context.Context, cl Client, control *Control, task Task, parentToken, localPath, fileName string, size int64) (string, error) {
	var (
		uploadID  string
		blockSize int64
		nextSeq   int
	)

	if task.Resume != nil && task.Resume.Mode == ResumeModeUpload && task.Resume.UploadID != "" {
		uploadID = task.Resume.UploadID
		blockSize = task.Resume.BlockSize
		nextSeq = task.Resume.NextSeq
	} else {
		prep, err := cl.UploadPrepare(ctx, fileName, parentToken, size)
		if err != nil {
			return "", err
		}

		uploadID = prep.UploadID
		blockSize = prep.BlockSize

		if blockSize <= 0 {
			return "", fmt.Errorf("drive: invalid block size %d", blockSize)
		}

		if _, err := m.Update(task.ID, func(t *Task) {
			t.Resume = &Resume{
				Mode:        ResumeModeUpload,
				UploadID:    uploadID,
				BlockSize:   blockSize,
				NextSeq:     0,
				ParentToken: parentToken,
				FilePath:    localPath,
				FileName:    fileName,
				Size:        size,
			}
		}); err != nil {
			return "", err
		}
	}

	totalParts := int((size + blockSize - 1) / blockSize)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	offset := min(blockSize*int64(nextSeq), size)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("seeking to resume offset: %w", err)
	}

	transferred := offset

	for seq := nextSeq; seq < totalParts; seq++ {
		if err := control.Wait(ctx); err != nil {
			return "", err
		}

		chunkLen := min(blockSize, size-transferred)

		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(f, chunk); err != nil {
			return "", fmt.Errorf("reading chunk %d: %w", seq, err)
		}

		if err := cl.UploadPart(ctx, uploadID, seq, fileName, chunk); err != nil {
			return "", err
		}

		transferred += chunkLen

		// Persist the continuation point after every acknowledged part so
		// a crash resumes at the next seq, never re-sending this one.
		if _, err := m.Update(task.ID, func(t *Task) {
			t.Transferred = transferred

			if t.Resume != nil {
				t.Resume.NextSeq = seq + 1
			}
		}); err != nil {
			return "", err
		}
	}

	return cl.UploadFinish(ctx, uploadID, totalParts)
}
