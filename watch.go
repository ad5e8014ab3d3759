package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/feisync/feisync/internal/sync"
)

// watchDebounce coalesces bursts of filesystem events into one run.
const watchDebounce = 2 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch local task directories and sync on change",
		Long:  "Watches the local directory of every enabled upload-capable sync task and triggers the task when files change, debounced per task.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, a)
		},
	}
}

// watchable reports whether file changes under the task's local path can
// produce work.
func watchable(t sync.TaskRecord) bool {
	return t.Enabled && t.LocalPath != "" && t.Direction != sync.DirectionCloudToLocal
}

func runWatch(ctx context.Context, a *app) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	tasks := make([]sync.TaskRecord, 0)

	for _, t := range a.syncStore.List() {
		if !watchable(t) {
			continue
		}

		if err := watchTree(watcher, t.LocalPath); err != nil {
			a.logger.Warn("cannot watch task directory",
				slog.String("task_id", t.ID),
				slog.String("path", t.LocalPath),
				slog.String("error", err.Error()),
			)

			continue
		}

		tasks = append(tasks, t)

		a.logger.Info("watching",
			slog.String("task_id", t.ID),
			slog.String("path", t.LocalPath),
		)
	}

	if len(tasks) == 0 {
		return errors.New("no enabled sync tasks with a local directory to watch")
	}

	var (
		mu     stdsync.Mutex
		timers = make(map[string]*time.Timer)
	)

	schedule := func(taskID string) {
		mu.Lock()
		defer mu.Unlock()

		if timer, ok := timers[taskID]; ok {
			timer.Reset(watchDebounce)

			return
		}

		timers[taskID] = time.AfterFunc(watchDebounce, func() {
			mu.Lock()
			delete(timers, taskID)
			mu.Unlock()

			if _, err := a.engine.Trigger(ctx, taskID); err != nil {
				a.logger.Warn("watch-triggered sync failed",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// New directories must be watched too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name)
				}
			}

			for _, t := range tasks {
				if underPath(t.LocalPath, event.Name) {
					schedule(t.ID)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			a.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// watchTree registers a directory and all its subdirectories.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
}

// underPath reports whether target lies at or below root.
func underPath(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
