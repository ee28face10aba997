// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package backupdb_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/backupdb"
	"github.com/StorXNetwork/volumebackup/backupdb/backupdbtest"
	"github.com/StorXNetwork/volumebackup/conductor"
)

func TestOpenUnsupported(t *testing.T) {
	ctx := testcontext.New(t)

	_, err := backupdb.Open(ctx, zaptest.NewLogger(t), "mysql://localhost")
	require.Error(t, err)
	assert.True(t, backupdb.ErrUnsupported.Has(err))
}

func TestMigrateTwice(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		require.NoError(t, db.Migrate(ctx))
		require.NoError(t, db.CheckVersion(ctx))
		require.NoError(t, db.Ping(ctx))
	})
}

func TestQueue(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		queue := db.Queue()

		created, err := queue.Create(ctx, conductor.QueueTask{
			VolumeID:     "v1",
			ProjectID:    "p1",
			InstanceID:   "i1",
			VolumeName:   "data",
			InstanceName: "web",
			Incremental:  true,
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, conductor.NullBackupID, created.BackupID)
		assert.Equal(t, conductor.StatusPlanned, created.Status)
		assert.False(t, created.CreatedAt.IsZero())

		other, err := queue.Create(ctx, conductor.QueueTask{VolumeID: "v2", ProjectID: "p1", InstanceID: "i1"})
		require.NoError(t, err)

		created.Status = conductor.StatusWIP
		created.BackupID = "b1"
		created.Reason = "pending"
		require.NoError(t, queue.Update(ctx, created))

		got, err := queue.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, conductor.StatusWIP, got.Status)
		assert.Equal(t, "b1", got.BackupID)
		assert.Equal(t, "pending", got.Reason)
		assert.True(t, got.Incremental)

		wip, err := queue.List(ctx, []conductor.Condition[conductor.QueueField]{
			conductor.Eq(conductor.QueueStatus, conductor.StatusWIP),
		}, conductor.ListOptions[conductor.QueueField]{})
		require.NoError(t, err)
		require.Len(t, wip, 1)
		assert.Equal(t, created.ID, wip[0].ID)

		open, err := queue.List(ctx, []conductor.Condition[conductor.QueueField]{
			conductor.Neq(conductor.QueueStatus, conductor.StatusCompleted),
			conductor.Neq(conductor.QueueStatus, conductor.StatusFailed),
		}, conductor.ListOptions[conductor.QueueField]{})
		require.NoError(t, err)
		assert.Len(t, open, 2)

		require.NoError(t, queue.Delete(ctx, other.ID))
		_, err = queue.Get(ctx, other.ID)
		assert.True(t, conductor.ErrNotFound.Has(err))
		assert.True(t, conductor.ErrNotFound.Has(queue.Delete(ctx, other.ID)))
		assert.True(t, conductor.ErrNotFound.Has(queue.Update(ctx, other)))

		all, err := queue.List(ctx, nil, conductor.ListOptions[conductor.QueueField]{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestBackupsFiltering(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		backups := db.Backups()
		now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

		var ids []int64
		for i, age := range []time.Duration{10 * 24 * time.Hour, 5 * 24 * time.Hour, 20 * 24 * time.Hour} {
			record, err := backups.Create(ctx, conductor.BackupRecord{
				VolumeID:    "v1",
				ProjectID:   "p1",
				InstanceID:  "i1",
				BackupID:    []string{"b10", "b5", "b20"}[i],
				Incremental: i == 1,
				Completed:   true,
				CreatedAt:   now.Add(-age),
			})
			require.NoError(t, err)
			ids = append(ids, record.ID)
		}
		_, err := backups.Create(ctx, conductor.BackupRecord{
			VolumeID: "v1", ProjectID: "p1", InstanceID: "i1", BackupID: "failed",
			CreatedAt: conductor.FailedRecordTime,
		})
		require.NoError(t, err)

		newest, err := backups.List(ctx, []conductor.Condition[conductor.BackupField]{
			conductor.Eq(conductor.BackupVolumeID, "v1"),
			conductor.Eq(conductor.BackupCompleted, true),
		}, conductor.ListOptions[conductor.BackupField]{
			Limit:   2,
			SortKey: conductor.BackupCreatedAt,
			SortDir: conductor.Descending,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b5", "b10"}, backupIDs(newest))
		assert.True(t, newest[0].Incremental)
		assert.Equal(t, now.Add(-5*24*time.Hour), newest[0].CreatedAt)

		next, err := backups.List(ctx, nil, conductor.ListOptions[conductor.BackupField]{
			Marker:  newest[1].ID,
			SortKey: conductor.BackupCreatedAt,
			SortDir: conductor.Descending,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b20", "failed"}, backupIDs(next))

		expired, err := backups.List(ctx, []conductor.Condition[conductor.BackupField]{
			conductor.Lt(conductor.BackupCreatedAt, now.Add(-7*24*time.Hour)),
		}, conductor.ListOptions[conductor.BackupField]{})
		require.NoError(t, err)
		if diff := cmp.Diff([]string{"b10", "b20", "failed"}, backupIDs(expired)); diff != "" {
			t.Fatal(diff)
		}

		byID, err := backups.List(ctx, nil, conductor.ListOptions[conductor.BackupField]{Marker: ids[0], Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"b5"}, backupIDs(byID))

		require.NoError(t, backups.Delete(ctx, ids[1]))
		remaining, err := backups.List(ctx, []conductor.Condition[conductor.BackupField]{
			conductor.Gte(conductor.BackupCreatedAt, now.Add(-6*24*time.Hour)),
		}, conductor.ListOptions[conductor.BackupField]{})
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}

func TestReports(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		reports := db.Reports()
		base := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

		for day := 0; day < 3; day++ {
			_, err := reports.Create(ctx, conductor.ReportTimestamp{SentAt: base.Add(time.Duration(day) * 24 * time.Hour)})
			require.NoError(t, err)
		}

		latest, err := reports.List(ctx, nil, conductor.ListOptions[conductor.ReportField]{
			Limit:   1,
			SortKey: conductor.ReportSentAt,
			SortDir: conductor.Descending,
		})
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, base.Add(48*time.Hour), latest[0].SentAt)

		require.NoError(t, reports.Delete(ctx, latest[0].ID))
		all, err := reports.List(ctx, nil, conductor.ListOptions[conductor.ReportField]{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestInvalidFilter(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		_, err := db.Backups().List(ctx, []conductor.Condition[conductor.BackupField]{
			conductor.Eq(conductor.BackupField("volume_id; DROP TABLE backup_data"), "v1"),
		}, conductor.ListOptions[conductor.BackupField]{})
		require.Error(t, err)
		assert.True(t, backupdb.ErrInvalidFilter.Has(err))

		_, err = db.Queue().List(ctx, nil, conductor.ListOptions[conductor.QueueField]{SortKey: "reason"})
		assert.True(t, backupdb.ErrInvalidFilter.Has(err))
	})
}

func backupIDs(records []conductor.BackupRecord) []string {
	var ids []string
	for _, record := range records {
		ids = append(ids, record.BackupID)
	}
	return ids
}
