// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/conductor"
)

func TestServiceInvalidConfig(t *testing.T) {
	run(t, func(config *conductor.Config) {
		config.BackupWorkers = -1
	}, func(ctx *testcontext.Context, env *env) {
		_, err := conductor.NewService(zaptest.NewLogger(t), env.db, env.client, env.locker(ctx), env.sender, env.config)
		require.Error(t, err)
		assert.True(t, conductor.ErrInvalidConfig.Has(err))
	})
}

func TestServiceRunsManagers(t *testing.T) {
	run(t, func(config *conductor.Config) {
		config.BackupWorkers = 2
		config.RotationWorkers = 1
		config.BackupServicePeriod = 10 * time.Millisecond
		config.RetentionServicePeriod = 10 * time.Millisecond
	}, func(ctx *testcontext.Context, env *env) {
		env.backend.SetInitialStatus(cloud.BackupAvailable)
		env.backend.AddBackup("p1", cloud.Backup{ID: "expired", VolumeID: "v9", Status: cloud.BackupAvailable, CreatedAt: epoch.Add(-30 * day)})
		env.addRecord(ctx, conductor.BackupRecord{VolumeID: "v9", InstanceID: "s9", BackupID: "expired", Completed: true, CreatedAt: epoch.Add(-30 * day)})

		service, err := conductor.NewService(zaptest.NewLogger(t), env.db, env.client, env.locker(ctx), env.sender, env.config)
		require.NoError(t, err)
		service.Controller.SetNow(env.clock.Now)
		assert.Len(t, service.Backup, 2)
		assert.Len(t, service.Rotation, 1)

		runCtx, cancel := context.WithCancel(ctx)
		var group errgroup.Group
		group.Go(func() error {
			return errs2.IgnoreCanceled(service.Run(runCtx))
		})

		require.Eventually(t, func() bool {
			records, err := env.db.Backups().List(ctx, nil, conductor.ListOptions[conductor.BackupField]{})
			return err == nil && len(records) == 1 && records[0].BackupID == "b1"
		}, 5*time.Second, 10*time.Millisecond)

		cancel()
		require.NoError(t, group.Wait())
		require.NoError(t, service.Close())

		assert.Len(t, env.backend.Creates(), 1)
		assert.Len(t, env.sender.Bodies(), 1)
	})
}
