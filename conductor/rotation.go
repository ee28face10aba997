// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storj.io/common/sync2"

	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/private/coordination"
	"github.com/StorXNetwork/volumebackup/private/reltime"
)

// RotationManager removes backups older than their retention time.
//
// architecture: Chore
type RotationManager struct {
	log        *zap.Logger
	controller *Controller
	locker     Locker
	config     Config
	limiter    *rate.Limiter

	Loop *sync2.Cycle
}

// NewRotationManager creates a new rotation manager.
func NewRotationManager(log *zap.Logger, controller *Controller, locker Locker, config Config) *RotationManager {
	limit := rate.Inf
	if config.RotationDeletePause > 0 {
		limit = rate.Every(config.RotationDeletePause)
	}
	return &RotationManager{
		log:        log,
		controller: controller,
		locker:     locker,
		config:     config,
		limiter:    rate.NewLimiter(limit, 1),
		Loop:       sync2.NewCycle(config.RetentionServicePeriod),
	}
}

// Run runs rotation cycles until the context is canceled.
func (manager *RotationManager) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return manager.Loop.Run(ctx, func(ctx context.Context) (err error) {
		defer mon.Task()(&ctx)(&err)
		if err := manager.RunOnce(ctx); err != nil {
			manager.log.Error("rotation cycle failed", zap.Error(Error.Wrap(err)))
		}
		return nil
	})
}

// RunOnce runs a single rotation cycle when the retention lock is free.
func (manager *RotationManager) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := manager.controller.UpdateProjectList(ctx); err != nil {
		return err
	}

	acquired, err := manager.locker.WithLock(ctx, coordination.LockRetention, manager.rotate)
	if err == nil && !acquired {
		manager.log.Debug("rotation is running on another member")
	}
	return err
}

// Thresholds returns the default removal threshold and the per instance
// thresholds configured through server metadata.
func (manager *RotationManager) Thresholds(ctx context.Context, now time.Time) (time.Time, map[string]time.Time) {
	threshold := manager.config.retentionTime(manager.log).Before(now)
	perInstance := map[string]time.Time{}

	key := manager.config.RetentionMetadataKey
	if key == "" {
		return threshold, perInstance
	}

	for _, project := range manager.controller.Projects() {
		servers, err := retryAuth(ctx, manager.controller, func(ctx context.Context) ([]cloud.Server, error) {
			return manager.controller.cloud.ListServers(ctx, project.ID)
		})
		if err != nil {
			manager.log.Warn("failed to list servers", zap.String("project_id", project.ID), zap.Error(err))
			continue
		}
		for _, server := range servers {
			value, ok := server.Metadata[key]
			if !ok {
				continue
			}
			offset, err := reltime.Parse(value)
			if err != nil {
				manager.log.Warn("ignoring retention time of server",
					zap.String("instance_id", server.ID), zap.String("value", value), zap.Error(err))
				continue
			}
			perInstance[server.ID] = offset.Before(now)
		}
	}
	return threshold, perInstance
}

func (manager *RotationManager) rotate(ctx context.Context) error {
	now := manager.controller.now()
	threshold, perInstance := manager.Thresholds(ctx, now)

	records, err := manager.controller.db.Backups().List(ctx, nil, ListOptions[BackupField]{})
	if err != nil {
		return Error.Wrap(err)
	}

	byInstance := map[string][]BackupRecord{}
	for _, record := range records {
		byInstance[record.InstanceID] = append(byInstance[record.InstanceID], record)
	}
	instances := make([]string, 0, len(byInstance))
	for instance := range byInstance {
		instances = append(instances, instance)
	}
	sort.Strings(instances)

	removed, kept := 0, 0
	for _, instance := range instances {
		limit := threshold
		if override, ok := perInstance[instance]; ok {
			limit = override
		}

		// newest first, so incremental backups go before what they build on.
		records := byInstance[instance]
		sort.SliceStable(records, func(i, k int) bool { return records[i].CreatedAt.After(records[k].CreatedAt) })

		for _, record := range records {
			if !record.CreatedAt.Before(limit) {
				continue
			}
			if err := manager.limiter.Wait(ctx); err != nil {
				return err
			}

			ok, err := manager.remove(ctx, record)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				manager.log.Error("failed to remove backup", append(recordFields(record), zap.Error(err))...)
			}
			if ok {
				removed++
			} else {
				kept++
			}
		}
	}

	mon.Counter("rotation_backups_removed").Inc(int64(removed))
	manager.log.Info("rotation finished", zap.Int("removed", removed), zap.Int("kept", kept))
	return nil
}

func (manager *RotationManager) remove(ctx context.Context, record BackupRecord) (removed bool, err error) {
	if manager.config.RetentionSoftRemove {
		return manager.controller.SoftRemoveBackup(ctx, record)
	}
	return manager.controller.HardRemoveBackup(ctx, record, true)
}

// Close stops the manager.
func (manager *RotationManager) Close() error {
	manager.Loop.Close()
	return nil
}
