// Package sched periodically triggers enabled sync tasks whose cron
// schedule has come due. Schedules use standard five-field cron
// expressions; a task with an empty or unparsable schedule is never due.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feisync/feisync/internal/sync"
)

// tickInterval is how often the task list is re-evaluated.
const tickInterval = 30 * time.Second

// Trigger runs one sync task now. Implemented by the sync engine.
type Trigger interface {
	Trigger(ctx context.Context, taskID string) (sync.TaskRecord, error)
}

// Scheduler evaluates task schedules and fires due runs.
type Scheduler struct {
	store   *sync.Store
	trigger Trigger
	logger  *slog.Logger

	parser cron.Parser

	now func() time.Time
}

func New(store *sync.Store, trigger Trigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:   store,
		trigger: trigger,
		logger:  logger,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run evaluates schedules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("tick", tickInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick walks the task list once, firing tasks whose next-run time has
// passed and recording the following one.
func (s *Scheduler) tick(ctx context.Context) {
	for _, task := range s.store.List() {
		if !task.Enabled || task.Schedule == "" {
			continue
		}

		schedule, err := s.parser.Parse(task.Schedule)
		if err != nil {
			s.logger.Warn("unparsable schedule",
				slog.String("task_id", task.ID),
				slog.String("schedule", task.Schedule),
				slog.String("error", err.Error()),
			)

			continue
		}

		now := s.now()

		// First sighting: plan the next run without firing, so enabling a
		// task does not immediately sync.
		if task.NextRunAt == nil {
			s.plan(task.ID, schedule.Next(now))

			continue
		}

		if now.Before(*task.NextRunAt) {
			continue
		}

		s.plan(task.ID, schedule.Next(now))
		s.fire(ctx, task.ID)
	}
}

func (s *Scheduler) plan(taskID string, next time.Time) {
	_, err := s.store.Update(taskID, func(t *sync.TaskRecord) {
		t.NextRunAt = &next
	})
	if err != nil {
		s.logger.Warn("recording next run failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) fire(ctx context.Context, taskID string) {
	if _, err := s.trigger.Trigger(ctx, taskID); err != nil {
		if errors.Is(err, sync.ErrTaskRunning) {
			s.logger.Info("task still running, skipping scheduled run",
				slog.String("task_id", taskID),
			)

			return
		}

		s.logger.Warn("scheduled run failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
