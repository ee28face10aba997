// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/cloud"
)

func taskFields(task QueueTask) []zap.Field {
	return []zap.Field{
		zap.Int64("task_id", task.ID),
		zap.String("volume_id", task.VolumeID),
		zap.String("project_id", task.ProjectID),
		zap.String("backup_id", task.BackupID),
	}
}

func recordFields(record BackupRecord) []zap.Field {
	return []zap.Field{
		zap.Int64("record_id", record.ID),
		zap.String("volume_id", record.VolumeID),
		zap.String("project_id", record.ProjectID),
		zap.String("backup_id", record.BackupID),
	}
}

// updateTask stores a transition of task.
func (controller *Controller) updateTask(ctx context.Context, task QueueTask) error {
	task.Reason = truncate(task.Reason, MaxReasonLength)
	return Error.Wrap(controller.db.Queue().Update(ctx, task))
}

// dropTask soft deletes a task that cannot be processed anymore.
func (controller *Controller) dropTask(ctx context.Context, task QueueTask, why string) error {
	controller.log.Warn("dropping task", append(taskFields(task), zap.String("reason", why))...)
	mon.Counter("conductor_tasks_dropped").Inc(1)
	return Error.Wrap(controller.db.Queue().Delete(ctx, task.ID))
}

// fail moves a task to FAILED. Tasks which own a provider backup also get a
// backdated failed record, so rotation reconciles the provider side.
func (controller *Controller) fail(ctx context.Context, task QueueTask, reason string) error {
	if task.BackupID != NullBackupID {
		_, err := controller.db.Backups().Create(ctx, BackupRecord{
			VolumeID:    task.VolumeID,
			ProjectID:   task.ProjectID,
			InstanceID:  task.InstanceID,
			BackupID:    task.BackupID,
			Incremental: task.Incremental,
			Completed:   false,
			CreatedAt:   FailedRecordTime,
		})
		if err != nil {
			return Error.Wrap(err)
		}
	}

	task.Status = StatusFailed
	task.Reason = reason
	if err := controller.updateTask(ctx, task); err != nil {
		return err
	}

	mon.Counter("backup_task_failed").Inc(1)
	controller.log.Info("backup failed", append(taskFields(task), zap.String("reason", reason))...)
	return nil
}

// complete moves a task to COMPLETED and records the backup.
func (controller *Controller) complete(ctx context.Context, task QueueTask) error {
	_, err := controller.db.Backups().Create(ctx, BackupRecord{
		VolumeID:    task.VolumeID,
		ProjectID:   task.ProjectID,
		InstanceID:  task.InstanceID,
		BackupID:    task.BackupID,
		Incremental: task.Incremental,
		Completed:   true,
		CreatedAt:   controller.now(),
	})
	if err != nil {
		return Error.Wrap(err)
	}

	task.Status = StatusCompleted
	task.Reason = ""
	if err := controller.updateTask(ctx, task); err != nil {
		return err
	}

	mon.Counter("backup_task_completed").Inc(1)
	controller.log.Info("backup completed", taskFields(task)...)
	return nil
}

// CreateVolumeBackup requests the backup of a PLANNED task and moves it to
// WIP. The caller holds the volume lock. A task found in INIT was claimed by
// an attempt that never finished, and the provider may already hold its
// backup, so it fails instead of requesting another one.
func (controller *Controller) CreateVolumeBackup(ctx context.Context, task QueueTask) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !task.Status.Claimable() {
		return nil
	}
	if task.Status == StatusInit {
		mon.Counter("backup_task_interrupted").Inc(1)
		return controller.fail(ctx, task, fmt.Sprintf("The backup creation for the volume %s was interrupted.", task.VolumeID))
	}
	if task.BackupID != NullBackupID {
		return controller.dropTask(ctx, task, "planned task already has a backup")
	}
	if _, ok := controller.Project(task.ProjectID); !ok {
		return controller.dropTask(ctx, task, "project is not accessible")
	}

	task.Status = StatusInit
	if err := controller.updateTask(ctx, task); err != nil {
		return err
	}

	controller.log.Info("creating backup", append(taskFields(task), zap.Bool("incremental", task.Incremental))...)
	backup, err := retryAuth(ctx, controller, func(ctx context.Context) (*cloud.Backup, error) {
		return controller.cloud.CreateBackup(ctx, cloud.CreateBackupRequest{
			VolumeID:    task.VolumeID,
			ProjectID:   task.ProjectID,
			Name:        BackupName(task, controller.now().Unix()),
			Incremental: task.Incremental,
			Force:       true,
		})
	})
	if err == nil {
		task.BackupID = backup.ID
		task.Status = StatusWIP
		mon.Counter("backup_task_started").Inc(1)
		return controller.updateTask(ctx, task)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	controller.log.Warn("backup creation failed", append(taskFields(task), zap.Error(err))...)

	if cloud.ErrIncrementalWithoutFull.Has(err) && task.Incremental {
		task.Incremental = false
		task.Status = StatusPlanned
		controller.log.Info("no full backup to build on, retrying as full backup next cycle", taskFields(task)...)
		return controller.updateTask(ctx, task)
	}

	reason := fmt.Sprintf("Backup creation for the volume %s failed. %v", task.VolumeID, err)
	if backupID, ok := cloud.BackupIDFromError(err); ok {
		// the provider allocated a backup in error, polling reconciles it.
		task.BackupID = backupID
		task.Status = StatusWIP
		task.Reason = reason
		return controller.updateTask(ctx, task)
	}
	return controller.fail(ctx, task, reason)
}

// CheckVolumeBackupStatus polls the backup of a WIP task and applies the
// outcome. The caller holds the volume lock.
func (controller *Controller) CheckVolumeBackupStatus(ctx context.Context, task QueueTask) (err error) {
	defer mon.Task()(&ctx)(&err)

	if task.Status != StatusWIP {
		return nil
	}
	if task.BackupID == NullBackupID {
		return controller.fail(ctx, task, fmt.Sprintf("The backup creation for the volume %s was prefailed.", task.VolumeID))
	}
	if _, ok := controller.Project(task.ProjectID); !ok {
		return controller.dropTask(ctx, task, "project is not accessible")
	}

	backup, err := retryAuth(ctx, controller, func(ctx context.Context) (*cloud.Backup, error) {
		return controller.cloud.GetBackup(ctx, task.ProjectID, task.BackupID)
	})
	if err != nil {
		return Error.Wrap(err)
	}
	if backup == nil {
		return controller.dropTask(ctx, task, "backup does not exist on the provider")
	}

	switch backup.Status {
	case cloud.BackupCreating:
		controller.log.Debug("waiting for backup to complete", taskFields(task)...)
		return nil
	case cloud.BackupAvailable:
		return controller.complete(ctx, task)
	case cloud.BackupError:
		controller.forceDelete(ctx, task)
		return controller.fail(ctx, task, fmt.Sprintf("The status of backup for the volume %s is error.", task.VolumeID))
	case cloud.BackupDeleting, cloud.BackupRestoring, cloud.BackupErrorRestoring:
		// the artifact exists, rotation reconciles the rest.
		return controller.complete(ctx, task)
	case cloud.BackupUnknown:
		controller.log.Warn("unknown backup status, waiting", taskFields(task)...)
		return nil
	default:
		return Error.New("unhandled backup status %v", backup.Status)
	}
}

// forceDelete removes the provider backup of a task, logging failures.
func (controller *Controller) forceDelete(ctx context.Context, task QueueTask) {
	if task.BackupID == NullBackupID {
		return
	}
	if _, ok := controller.Project(task.ProjectID); !ok {
		return
	}
	_, err := retryAuth(ctx, controller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, controller.cloud.DeleteBackup(ctx, task.ProjectID, task.BackupID, true)
	})
	if err != nil {
		controller.log.Error("failed to delete backup, needs to be deleted manually", append(taskFields(task), zap.Error(err))...)
	}
}

// HardCancelBackupTask cancels a WIP task whose cycle timed out: the backup
// is force deleted and the task fails.
func (controller *Controller) HardCancelBackupTask(ctx context.Context, task QueueTask) (err error) {
	defer mon.Task()(&ctx)(&err)

	if task.Status.Terminal() {
		return nil
	}
	mon.Counter("backup_task_timeouts").Inc(1)
	controller.forceDelete(ctx, task)
	return controller.fail(ctx, task, fmt.Sprintf("Cancel backup %s because of timeout", task.BackupID))
}

// SoftRemoveBackup removes the backup of a record only when the backup is
// not in transition. It returns whether the record was removed.
func (controller *Controller) SoftRemoveBackup(ctx context.Context, record BackupRecord) (removed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, ok := controller.Project(record.ProjectID); !ok {
		controller.log.Info("project is not accessible, keeping backup record", recordFields(record)...)
		return false, nil
	}

	backup, err := retryAuth(ctx, controller, func(ctx context.Context) (*cloud.Backup, error) {
		return controller.cloud.GetBackup(ctx, record.ProjectID, record.BackupID)
	})
	if err != nil {
		return false, Error.Wrap(err)
	}
	if backup == nil {
		controller.log.Info("backup does not exist on the provider, removing record", recordFields(record)...)
		return true, controller.removeRecord(ctx, record)
	}

	switch backup.Status {
	case cloud.BackupAvailable, cloud.BackupError, cloud.BackupErrorRestoring:
		return controller.deleteBackup(ctx, record, true)
	case cloud.BackupCreating, cloud.BackupDeleting, cloud.BackupRestoring, cloud.BackupUnknown:
		controller.log.Info("backup is in transition, rotation skipped this cycle",
			append(recordFields(record), zap.Stringer("status", backup.Status))...)
		return false, nil
	default:
		return false, Error.New("unhandled backup status %v", backup.Status)
	}
}

// HardRemoveBackup removes the backup of a record regardless of its status.
// With tolerateIncremental, a backup that incremental backups depend on is
// skipped without error. The record is kept on every unresolved failure.
func (controller *Controller) HardRemoveBackup(ctx context.Context, record BackupRecord, tolerateIncremental bool) (removed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, ok := controller.Project(record.ProjectID); !ok {
		controller.log.Info("project is not accessible, keeping backup record", recordFields(record)...)
		return false, nil
	}

	backup, err := retryAuth(ctx, controller, func(ctx context.Context) (*cloud.Backup, error) {
		return controller.cloud.GetBackup(ctx, record.ProjectID, record.BackupID)
	})
	if err != nil {
		return false, Error.Wrap(err)
	}
	if backup == nil {
		controller.log.Info("backup does not exist on the provider, removing record", recordFields(record)...)
		return true, controller.removeRecord(ctx, record)
	}

	return controller.deleteBackup(ctx, record, tolerateIncremental)
}

func (controller *Controller) deleteBackup(ctx context.Context, record BackupRecord, tolerateIncremental bool) (bool, error) {
	_, err := retryAuth(ctx, controller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, controller.cloud.DeleteBackup(ctx, record.ProjectID, record.BackupID, false)
	})
	if err != nil {
		if tolerateIncremental && cloud.ErrIncrementalDependency.Has(err) {
			controller.log.Info("incremental backups depend on backup, retrying later", recordFields(record)...)
			return false, nil
		}
		return false, Error.Wrap(err)
	}

	mon.Counter("backup_removed").Inc(1)
	return true, controller.removeRecord(ctx, record)
}

func (controller *Controller) removeRecord(ctx context.Context, record BackupRecord) error {
	err := controller.db.Backups().Delete(ctx, record.ID)
	if ErrNotFound.Has(err) {
		return nil
	}
	return Error.Wrap(err)
}
