// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package backupdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"github.com/StorXNetwork/volumebackup/conductor"
)

const queueFields = "id, volume_id, project_id, instance_id, backup_id, backup_status, volume_name, instance_name, incremental, reason, created_at, updated_at"

// queueDB implements conductor.QueueDB.
type queueDB struct {
	db *DB
}

func scanTask(row interface{ Scan(...interface{}) error }) (task conductor.QueueTask, err error) {
	var status int64
	err = row.Scan(&task.ID, &task.VolumeID, &task.ProjectID, &task.InstanceID, &task.BackupID, &status,
		&task.VolumeName, &task.InstanceName, &task.Incremental, &task.Reason, &task.CreatedAt, &task.UpdatedAt)
	task.Status = conductor.Status(status)
	task.CreatedAt, task.UpdatedAt = task.CreatedAt.UTC(), task.UpdatedAt.UTC()
	return task, err
}

// Create implements conductor.QueueDB.
func (queue *queueDB) Create(ctx context.Context, task conductor.QueueTask) (_ conductor.QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)

	now := queue.db.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.BackupID == "" {
		task.BackupID = conductor.NullBackupID
	}

	row := queue.db.db.QueryRowContext(ctx, queue.db.rebind(`
		INSERT INTO queue_data (volume_id, project_id, instance_id, backup_id, backup_status, volume_name, instance_name, incremental, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+queueFields),
		task.VolumeID, task.ProjectID, task.InstanceID, task.BackupID, int64(task.Status),
		task.VolumeName, task.InstanceName, task.Incremental, task.Reason, task.CreatedAt.UTC(), now)

	created, err := scanTask(row)
	return created, Error.Wrap(err)
}

// Get implements conductor.QueueDB.
func (queue *queueDB) Get(ctx context.Context, id int64) (_ conductor.QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)

	row := queue.db.db.QueryRowContext(ctx, queue.db.rebind(
		`SELECT `+queueFields+` FROM queue_data WHERE id = ? AND deleted = ?`), id, false)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conductor.QueueTask{}, conductor.ErrNotFound.New("task %d", id)
	}
	return task, Error.Wrap(err)
}

// List implements conductor.QueueDB.
func (queue *queueDB) List(ctx context.Context, conditions []conductor.Condition[conductor.QueueField], opts conductor.ListOptions[conductor.QueueField]) (_ []conductor.QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, err := selectQuery(queue.db.dialect, "queue_data", queueFields, queueColumns, conditions, opts)
	if err != nil {
		return nil, err
	}

	rows, err := queue.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var tasks []conductor.QueueTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		tasks = append(tasks, task)
	}
	return tasks, Error.Wrap(rows.Err())
}

// Update implements conductor.QueueDB.
func (queue *queueDB) Update(ctx context.Context, task conductor.QueueTask) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := queue.db.db.ExecContext(ctx, queue.db.rebind(`
		UPDATE queue_data
		SET backup_id = ?, backup_status = ?, volume_name = ?, instance_name = ?, incremental = ?, reason = ?, updated_at = ?
		WHERE id = ? AND deleted = ?`),
		task.BackupID, int64(task.Status), task.VolumeName, task.InstanceName, task.Incremental, task.Reason, queue.db.now(),
		task.ID, false)
	if err != nil {
		return Error.Wrap(err)
	}
	return affected(result, "task", task.ID)
}

// Delete implements conductor.QueueDB.
func (queue *queueDB) Delete(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return queue.db.softDelete(ctx, "queue_data", id)
}

// softDelete marks a live row as deleted.
func (db *DB) softDelete(ctx context.Context, table string, id int64) error {
	now := db.now()
	result, err := db.db.ExecContext(ctx, db.rebind(
		`UPDATE `+table+` SET deleted = ?, deleted_at = ?, updated_at = ? WHERE id = ? AND deleted = ?`),
		true, now, now, id, false)
	if err != nil {
		return Error.Wrap(err)
	}
	return affected(result, table, id)
}

func affected(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if n == 0 {
		return conductor.ErrNotFound.New("%s %d", kind, id)
	}
	return nil
}
