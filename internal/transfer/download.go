package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// partialSuffix marks in-progress downloads; the temp file is renamed to
// the final target only after the stream completes.
const partialSuffix = ".feisync.part"

// downloadChunkSize is the copy buffer between yield points.
const downloadChunkSize = 256 * 1024

// DownloadFile streams one remote file into destDir as its own transfer
// task and returns the final path. A resume task reattaches to the byte
// offset recorded in its continuation state; otherwise an existing temp
// file's length is trusted as the offset.
func (m *Manager) DownloadFile(ctx context.Context, cl Client, tenantID, fileToken, destDir, fileName string, resumeTask *Task, knownSize int64) (string, error) {
	target := filepath.Join(destDir, fileName)

	var (
		task Task
		err  error
	)

	if resumeTask != nil {
		task, err = m.Update(resumeTask.ID, func(t *Task) {
			t.Status = StatusRunning
			t.Message = ""
		})
	} else {
		task, err = m.CreateTask(Task{
			Direction:     DirectionDownload,
			Kind:          KindFileDownload,
			Name:          fileName,
			TenantID:      tenantID,
			ResourceToken: fileToken,
			LocalPath:     target,
			Size:          knownSize,
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

	runErr := m.runFileDownload(ctx, cl, control, task, fileToken, target, fileName)

	m.finalize(task.ID, runErr)

	if runErr != nil {
		return "", runErr
	}

	m.register(tenantID, fileToken)

	m.logger.Info("download complete",
		slog.String("task_id", task.ID),
		slog.String("path", target),
	)

	return target, nil
}

func (m *Manager) runFileDownload(ctx context.Context, cl Client, control *Control, task Task, fileToken, target, fileName string) error {
	temp := target + partialSuffix

	var downloaded int64
	if task.Resume != nil && task.Resume.Mode == ResumeModeDownload {
		downloaded = task.Resume.Downloaded
	}

	// A zero offset with a surviving temp file means the previous run
	// crashed between writing bytes and persisting progress: trust the
	// file length, it only holds acknowledged bytes.
	if downloaded == 0 {
		if info, err := os.Stat(temp); err == nil {
			downloaded = info.Size()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("inspecting temp file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	f, err := os.OpenFile(temp, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening temp file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(downloaded); err != nil {
		return fmt.Errorf("truncating temp file: %w", err)
	}

	if _, err := f.Seek(downloaded, io.SeekStart); err != nil {
		return fmt.Errorf("seeking temp file: %w", err)
	}

	if err := control.Wait(ctx); err != nil {
		return err
	}

	body, contentLength, err := cl.DownloadRange(ctx, fileToken, downloaded)
	if err != nil {
		return err
	}
	defer body.Close()

	// Size may be unknown at task creation; fix it once the server
	// reports the remaining length.
	if task.Size == 0 && contentLength >= 0 {
		total := downloaded + contentLength

		if _, err := m.Update(task.ID, func(t *Task) { t.Size = total }); err != nil {
			return err
		}
	}

	buf := make([]byte, downloadChunkSize)

	for {
		if err := control.Wait(ctx); err != nil {
			return err
		}

		n, readErr := body.Read(buf)

		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing temp file: %w", err)
			}

			downloaded += int64(n)

			if _, err := m.Update(task.ID, func(t *Task) {
				t.Transferred = downloaded
				t.Resume = &Resume{
					Mode:       ResumeModeDownload,
					TempPath:   temp,
					TargetPath: target,
					Downloaded: downloaded,
					Token:      fileToken,
					FileName:   fileName,
				}
			}); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return fmt.Errorf("streaming download: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(temp, target); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
