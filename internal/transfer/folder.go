package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// UploadFolder mirrors a local directory tree into the drive, breadth
// first. Each directory is created remotely before its children are
// visited; each file runs through the single-file upload pipeline as its
// own task. The folder itself is tracked as one aggregate task.
func (m *Manager) UploadFolder(ctx context.Context, cl Client, tenantID, parentToken, localDir string) error {
	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("reading local directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("transfer: %s is not a directory", localDir)
	}

	task, err := m.CreateTask(Task{
		Direction:   DirectionUpload,
		Kind:        KindFolderUpload,
		Name:        filepath.Base(localDir),
		TenantID:    tenantID,
		ParentToken: parentToken,
		LocalPath:   localDir,
	})
	if err != nil {
		return err
	}

	m.markActive(task.ID)
	control := m.EnsureControl(task.ID)

	if _, err := m.Update(task.ID, func(t *Task) { t.Status = StatusRunning }); err != nil {
		return err
	}

	runErr := m.runFolderUpload(ctx, cl, control, task, tenantID, parentToken, localDir)

	m.finalize(task.ID, runErr)

	return runErr
}

func (m *Manager) runFolderUpload(ctx context.Context, cl Client, control *Control, task Task, tenantID, parentToken, localDir string) error {
	type queueItem struct {
		localDir     string
		remoteParent string
	}

	queue := []queueItem{{localDir: localDir, remoteParent: parentToken}}

	var transferred int64

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if err := control.Wait(ctx); err != nil {
			return err
		}

		folderToken, err := cl.CreateFolder(ctx, filepath.Base(item.localDir), item.remoteParent)
		if err != nil {
			return err
		}

		m.register(tenantID, folderToken)

		entries, err := os.ReadDir(item.localDir)
		if err != nil {
			return fmt.Errorf("reading local directory: %w", err)
		}

		// Deterministic traversal makes interrupted runs repeatable.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			path := filepath.Join(item.localDir, entry.Name())

			if entry.IsDir() {
				queue = append(queue, queueItem{localDir: path, remoteParent: folderToken})

				continue
			}

			if !entry.Type().IsRegular() {
				continue
			}

			if err := control.Wait(ctx); err != nil {
				return err
			}

			if _, err := m.UploadFile(ctx, cl, tenantID, folderToken, path, entry.Name(), nil); err != nil {
				return err
			}

			if info, err := entry.Info(); err == nil {
				transferred += info.Size()

				if _, err := m.Update(task.ID, func(t *Task) { t.Transferred = transferred }); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// DownloadFolder mirrors a remote folder tree into targetDir, breadth
// first: directories are pre-created, then each file streams through the
// single-file download pipeline as its own task.
func (m *Manager) DownloadFolder(ctx context.Context, cl Client, tenantID, rootToken, targetDir string) error {
	task, err := m.CreateTask(Task{
		Direction:     DirectionDownload,
		Kind:          KindFolderDownload,
		Name:          filepath.Base(targetDir),
		TenantID:      tenantID,
		ResourceToken: rootToken,
		LocalPath:     targetDir,
	})
	if err != nil {
		return err
	}

	m.markActive(task.ID)
	control := m.EnsureControl(task.ID)

	if _, err := m.Update(task.ID, func(t *Task) { t.Status = StatusRunning }); err != nil {
		return err
	}

	runErr := m.runFolderDownload(ctx, cl, control, task, tenantID, rootToken, targetDir)

	m.finalize(task.ID, runErr)

	return runErr
}

func (m *Manager) runFolderDownload(ctx context.Context, cl Client, control *Control, task Task, tenantID, rootToken, targetDir string) error {
	type queueItem struct {
		token    string
		localDir string
	}

	queue := []queueItem{{token: rootToken, localDir: targetDir}}

	var transferred int64

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if err := control.Wait(ctx); err != nil {
			return err
		}

		if err := os.MkdirAll(item.localDir, 0o755); err != nil {
			return fmt.Errorf("creating local directory: %w", err)
		}

		entries, err := cl.ListFolder(ctx, item.token)
		if err != nil {
			return err
		}

		tokens := make([]string, 0, len(entries)+1)
		tokens = append(tokens, item.token)

		for _, entry := range entries {
			tokens = append(tokens, entry.Token)
		}

		m.register(tenantID, tokens...)

		for _, entry := range entries {
			if entry.IsFolder() {
				queue = append(queue, queueItem{
					token:    entry.Token,
					localDir: filepath.Join(item.localDir, entry.Name),
				})

				continue
			}

			if err := control.Wait(ctx); err != nil {
				return err
			}

			var size int64
			if entry.Size != nil {
				size = *entry.Size
			}

			if _, err := m.DownloadFile(ctx, cl, tenantID, entry.Token, item.localDir, entry.Name, nil, size); err != nil {
				return err
			}

			transferred += size

			if _, err := m.Update(task.ID, func(t *Task) { t.Transferred = transferred }); err != nil {
				return err
			}
		}
	}

	return nil
}
