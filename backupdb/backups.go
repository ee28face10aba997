// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package backupdb

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/StorXNetwork/volumebackup/conductor"
)

const backupFields = "id, volume_id, project_id, instance_id, backup_id, incremental, backup_completed, created_at"

// backupsDB implements conductor.BackupsDB.
type backupsDB struct {
	db *DB
}

func scanRecord(row interface{ Scan(...interface{}) error }) (record conductor.BackupRecord, err error) {
	err = row.Scan(&record.ID, &record.VolumeID, &record.ProjectID, &record.InstanceID, &record.BackupID,
		&record.Incremental, &record.Completed, &record.CreatedAt)
	record.CreatedAt = record.CreatedAt.UTC()
	return record, err
}

// Create implements conductor.BackupsDB.
func (backups *backupsDB) Create(ctx context.Context, record conductor.BackupRecord) (_ conductor.BackupRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	now := backups.db.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	row := backups.db.db.QueryRowContext(ctx, backups.db.rebind(`
		INSERT INTO backup_data (volume_id, project_id, instance_id, backup_id, incremental, backup_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+backupFields),
		record.VolumeID, record.ProjectID, record.InstanceID, record.BackupID,
		record.Incremental, record.Completed, record.CreatedAt.UTC(), now)

	created, err := scanRecord(row)
	return created, Error.Wrap(err)
}

// List implements conductor.BackupsDB.
func (backups *backupsDB) List(ctx context.Context, conditions []conductor.Condition[conductor.BackupField], opts conductor.ListOptions[conductor.BackupField]) (_ []conductor.BackupRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, err := selectQuery(backups.db.dialect, "backup_data", backupFields, backupColumns, conditions, opts)
	if err != nil {
		return nil, err
	}

	rows, err := backups.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var records []conductor.BackupRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		records = append(records, record)
	}
	return records, Error.Wrap(rows.Err())
}

// Delete implements conductor.BackupsDB.
func (backups *backupsDB) Delete(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return backups.db.softDelete(ctx, "backup_data", id)
}
