// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"

	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/StorXNetwork/volumebackup/conductor/report"
	"github.com/StorXNetwork/volumebackup/private/coordination"
)

// VolumeLock returns the lock name serializing transitions of a volume, the
// volume ID itself. Provider volume IDs are UUIDs, so they do not collide with
// the service locks.
func VolumeLock(volumeID string) string {
	return volumeID
}

// BackupManager runs backup cycles: discovery, backup requests, polling of
// backups in progress and reporting.
//
// architecture: Chore
type BackupManager struct {
	log        *zap.Logger
	controller *Controller
	locker     Locker
	sender     report.Sender
	config     Config

	Loop *sync2.Cycle
}

// NewBackupManager creates a new backup manager.
func NewBackupManager(log *zap.Logger, controller *Controller, locker Locker, sender report.Sender, config Config) *BackupManager {
	return &BackupManager{
		log:        log,
		controller: controller,
		locker:     locker,
		sender:     sender,
		config:     config,
		Loop:       sync2.NewCycle(config.BackupServicePeriod),
	}
}

// Run runs backup cycles until the context is canceled.
func (manager *BackupManager) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return manager.Loop.Run(ctx, func(ctx context.Context) (err error) {
		defer mon.Task()(&ctx)(&err)
		if err := manager.RunOnce(ctx); err != nil {
			manager.log.Error("backup cycle failed", zap.Error(Error.Wrap(err)))
		}
		return nil
	})
}

// RunOnce runs a single backup cycle. The manager holding the puller lock
// discovers volumes and reports results. Every manager drains the queue.
func (manager *BackupManager) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := manager.controller.UpdateProjectList(ctx); err != nil {
		return err
	}

	acquired, err := manager.locker.WithLock(ctx, coordination.LockPuller, func(ctx context.Context) error {
		manager.log.Debug("running as puller")
		if err := manager.plan(ctx); err != nil {
			manager.log.Error("failed to plan backups", zap.Error(err))
		}
		if err := manager.drain(ctx); err != nil {
			return err
		}
		sent, err := manager.controller.ReportIfDue(ctx, manager.sender)
		if err != nil {
			manager.log.Error("failed to publish report", zap.Error(err))
		} else if sent {
			manager.log.Info("backup report published")
		}
		return nil
	})
	if err != nil || acquired {
		return err
	}

	return manager.drain(ctx)
}

// plan enqueues the discovered candidates and records the volumes that
// could not be backed up.
func (manager *BackupManager) plan(ctx context.Context) error {
	discovery, err := manager.controller.RefreshCandidates(ctx)
	if err != nil {
		return err
	}
	open, err := manager.controller.OpenTasks(ctx)
	if err != nil {
		return err
	}
	created, err := manager.controller.CreateQueue(ctx, discovery.Candidates, open)
	if err != nil {
		return err
	}
	failed, err := manager.controller.RecordSkips(ctx, discovery.Skipped)
	if err != nil {
		return err
	}
	manager.log.Info("backup tasks planned",
		zap.Int("candidates", len(discovery.Candidates)),
		zap.Int("skipped", len(discovery.Skipped)),
		zap.Int("failed", failed),
		zap.Int("created", created))
	return nil
}

// drain requests backups for every claimable task and waits for the backups
// in progress until they finish or the cycle times out.
func (manager *BackupManager) drain(ctx context.Context) error {
	start := manager.controller.now()
	deadline := manager.config.cycleTimeout(manager.log).After(start)

	todo, err := manager.controller.ToDoTasks(ctx)
	if err != nil {
		return err
	}
	for _, task := range todo {
		manager.transition(ctx, "create backup", task, func(task QueueTask) bool {
			return task.Status.Claimable()
		}, manager.controller.CreateVolumeBackup)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	for {
		wip, err := manager.controller.WIPTasks(ctx)
		if err != nil {
			return err
		}
		if len(wip) == 0 {
			return nil
		}

		for _, task := range wip {
			manager.transition(ctx, "check backup", task, func(task QueueTask) bool {
				return task.Status == StatusWIP
			}, manager.controller.CheckVolumeBackupStatus)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		if !manager.controller.now().Before(deadline) {
			return manager.cancelRemaining(ctx)
		}
		if !sync2.Sleep(ctx, manager.config.ResultCheckInterval) {
			return ctx.Err()
		}
	}
}

// cancelRemaining hard cancels every task still in progress.
func (manager *BackupManager) cancelRemaining(ctx context.Context) error {
	wip, err := manager.controller.WIPTasks(ctx)
	if err != nil {
		return err
	}
	if len(wip) > 0 {
		manager.log.Warn("backup cycle timed out", zap.Int("in_progress", len(wip)))
	}
	for _, task := range wip {
		manager.transition(ctx, "cancel backup", task, func(task QueueTask) bool {
			return task.Status == StatusWIP
		}, manager.controller.HardCancelBackupTask)
	}
	return ctx.Err()
}

// transition applies fn to the current version of task under its volume
// lock. A contended lock leaves the task to its holder.
func (manager *BackupManager) transition(ctx context.Context, name string, task QueueTask, eligible func(QueueTask) bool, fn func(ctx context.Context, task QueueTask) error) {
	fields := taskFields(task)

	acquired, err := manager.locker.WithLock(ctx, VolumeLock(task.VolumeID), func(ctx context.Context) error {
		current, err := manager.controller.db.Queue().Get(ctx, task.ID)
		if err != nil {
			if ErrNotFound.Has(err) {
				return nil
			}
			return Error.Wrap(err)
		}
		if !eligible(current) {
			return nil
		}
		return manager.controller.isolate(ctx, name, fields, func(ctx context.Context) error {
			return fn(ctx, current)
		})
	})
	if err != nil {
		manager.log.Error("failed to "+name, append(fields, zap.Error(err))...)
		return
	}
	if !acquired {
		manager.log.Debug("volume is locked by another worker", fields...)
	}
}

// Close stops the manager.
func (manager *BackupManager) Close() error {
	manager.Loop.Close()
	return nil
}
