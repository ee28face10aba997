// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/cloud"
)

// Skip explains why a volume is not backed up this cycle. Failure skips are
// reported as failed backups; throttled volumes are not.
type Skip struct {
	ProjectID  string
	InstanceID string
	VolumeID   string
	Reason     string
	Failure    bool
}

// Discovery is the outcome of a candidate refresh.
type Discovery struct {
	Candidates []QueueTask
	Skipped    []Skip
}

// RefreshCandidates enumerates the volumes of opted in servers of every
// accessible project and returns PLANNED tasks for the eligible ones.
func (controller *Controller) RefreshCandidates(ctx context.Context) (_ Discovery, err error) {
	defer mon.Task()(&ctx)(&err)

	var discovery Discovery
	seen := map[string]bool{}

	for _, project := range controller.Projects() {
		servers, err := retryAuth(ctx, controller, func(ctx context.Context) ([]cloud.Server, error) {
			return controller.cloud.ListServers(ctx, project.ID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return discovery, ctx.Err()
			}
			controller.log.Warn("failed to list servers", zap.String("project_id", project.ID), zap.Error(err))
			continue
		}

		for _, server := range servers {
			if !controller.optedIn(server) {
				continue
			}

			for _, volumeID := range server.AttachedVolumes {
				if seen[volumeID] {
					continue
				}
				seen[volumeID] = true

				task, skip, err := controller.candidate(ctx, project, server, volumeID)
				if err != nil {
					if ctx.Err() != nil {
						return discovery, ctx.Err()
					}
					skip = &Skip{Reason: fmt.Sprintf("Volume %s is not backed up: %v", volumeID, err), Failure: true}
				}
				if skip != nil {
					skip.ProjectID, skip.InstanceID, skip.VolumeID = project.ID, server.ID, volumeID
					controller.log.Info("skipping volume",
						zap.String("project_id", project.ID),
						zap.String("volume_id", volumeID),
						zap.String("reason", skip.Reason))
					discovery.Skipped = append(discovery.Skipped, *skip)
					continue
				}
				discovery.Candidates = append(discovery.Candidates, task)
			}
		}
	}

	mon.IntVal("conductor_candidates").Observe(int64(len(discovery.Candidates)))
	return discovery, nil
}

// optedIn reports whether the server metadata enables backups. Without a
// configured key every server is eligible.
func (controller *Controller) optedIn(server cloud.Server) bool {
	key := controller.config.BackupMetadataKey
	if key == "" {
		return true
	}
	value, ok := server.Metadata[key]
	return ok && strings.EqualFold(strings.TrimSpace(value), BackupEnabledValue)
}

func (controller *Controller) candidate(ctx context.Context, project cloud.Project, server cloud.Server, volumeID string) (QueueTask, *Skip, error) {
	volume, err := retryAuth(ctx, controller, func(ctx context.Context) (*cloud.Volume, error) {
		return controller.cloud.GetVolume(ctx, project.ID, volumeID)
	})
	if err != nil {
		if cloud.IsNotFound(err) {
			return QueueTask{}, &Skip{Reason: fmt.Sprintf("Volume %s does not exist", volumeID), Failure: true}, nil
		}
		return QueueTask{}, nil, err
	}
	if !volume.Status.Backupable() {
		return QueueTask{}, &Skip{Reason: fmt.Sprintf("Volume %s is not backed up because it is in %s status", volumeID, volume.Status), Failure: true}, nil
	}

	recent, err := controller.backedUpRecently(ctx, volumeID)
	if err != nil {
		return QueueTask{}, nil, err
	}
	if recent {
		return QueueTask{}, &Skip{Reason: fmt.Sprintf("Volume %s was backed up within %s", volumeID, controller.config.BackupMinInterval)}, nil
	}

	incremental, err := controller.DecideIncremental(ctx, volumeID)
	if err != nil {
		return QueueTask{}, nil, err
	}

	volumeName := volume.Name
	if volumeName == "" {
		volumeName = volume.ID
	}

	return QueueTask{
		VolumeID:     volumeID,
		ProjectID:    project.ID,
		InstanceID:   server.ID,
		BackupID:     NullBackupID,
		Status:       StatusPlanned,
		VolumeName:   truncate(volumeName, MaxDisplayNameLength),
		InstanceName: truncate(server.Name, MaxDisplayNameLength),
		Incremental:  incremental,
	}, nil, nil
}

// backedUpRecently reports whether a backup record of the volume was created
// within the minimum interval.
func (controller *Controller) backedUpRecently(ctx context.Context, volumeID string) (bool, error) {
	if controller.config.BackupMinInterval <= 0 {
		return false, nil
	}
	since := controller.now().Add(-controller.config.BackupMinInterval)
	records, err := controller.db.Backups().List(ctx, []Condition[BackupField]{
		Eq(BackupVolumeID, volumeID),
		Gt(BackupCreatedAt, since),
	}, ListOptions[BackupField]{Limit: 1})
	if err != nil {
		return false, Error.Wrap(err)
	}
	return len(records) > 0, nil
}

// DecideIncremental returns true when a full backup exists among the last
// FullBackupDepth completed backups of the volume, so an incremental backup
// has an anchor.
func (controller *Controller) DecideIncremental(ctx context.Context, volumeID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	depth := controller.config.FullBackupDepth
	if depth <= 0 {
		return false, nil
	}

	records, err := controller.db.Backups().List(ctx, []Condition[BackupField]{
		Eq(BackupVolumeID, volumeID),
		Eq(BackupCompleted, true),
	}, ListOptions[BackupField]{Limit: depth, SortKey: BackupCreatedAt, SortDir: Descending})
	if err != nil {
		return false, Error.Wrap(err)
	}

	for _, record := range records {
		if !record.Incremental {
			return true, nil
		}
	}
	return false, nil
}

// CreateQueue inserts the candidates whose volume has no open task. It
// returns the number of created tasks.
func (controller *Controller) CreateQueue(ctx context.Context, candidates, open []QueueTask) (created int, err error) {
	defer mon.Task()(&ctx)(&err)

	busy := make(map[string]bool, len(open))
	for _, task := range open {
		busy[task.VolumeID] = true
	}

	for _, candidate := range candidates {
		if busy[candidate.VolumeID] {
			continue
		}
		busy[candidate.VolumeID] = true

		candidate.BackupID = NullBackupID
		candidate.Status = StatusPlanned
		if _, err := controller.db.Queue().Create(ctx, candidate); err != nil {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			controller.log.Error("failed to create task", zap.String("volume_id", candidate.VolumeID), zap.Error(err))
			continue
		}
		created++
	}

	mon.Counter("conductor_tasks_planned").Inc(int64(created))
	return created, nil
}

// RecordSkips stores the failure skips as FAILED tasks without a backup, so
// the next report lists them. A volume keeps a single unreported skip, whose
// reason is refreshed. It returns the number of created tasks.
func (controller *Controller) RecordSkips(ctx context.Context, skipped []Skip) (recorded int, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, skip := range skipped {
		if !skip.Failure {
			continue
		}

		existing, err := controller.db.Queue().List(ctx, []Condition[QueueField]{
			Eq(QueueVolumeID, skip.VolumeID),
			Eq(QueueStatus, StatusFailed),
			Eq(QueueBackupID, NullBackupID),
		}, ListOptions[QueueField]{Limit: 1})
		if err != nil {
			return recorded, Error.Wrap(err)
		}
		if len(existing) > 0 {
			task := existing[0]
			task.Reason = skip.Reason
			if err := controller.updateTask(ctx, task); err != nil {
				return recorded, err
			}
			continue
		}

		_, err = controller.db.Queue().Create(ctx, QueueTask{
			VolumeID:   skip.VolumeID,
			ProjectID:  skip.ProjectID,
			InstanceID: skip.InstanceID,
			BackupID:   NullBackupID,
			Status:     StatusFailed,
			Reason:     truncate(skip.Reason, MaxReasonLength),
		})
		if err != nil {
			return recorded, Error.Wrap(err)
		}
		recorded++
	}

	mon.Counter("conductor_skips_recorded").Inc(int64(recorded))
	return recorded, nil
}

// BackupName builds the provider side name of a task's backup.
func BackupName(task QueueTask, unix int64) string {
	return truncate(fmt.Sprintf("%s_%s_%d", task.InstanceName, task.VolumeName, unix), MaxBackupNameLength)
}
