// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
)

// DB is the persistence of the conductor.
//
// architecture: Database
type DB interface {
	// Queue returns the task queue.
	Queue() QueueDB
	// Backups returns the backup history.
	Backups() BackupsDB
	// Reports returns the published report markers.
	Reports() ReportsDB
	// Ping checks the database round trip.
	Ping(ctx context.Context) error
}

// QueueDB stores QueueTasks. Deleted tasks are soft deleted and never listed.
type QueueDB interface {
	// Create inserts a task and returns it with its id and timestamps.
	Create(ctx context.Context, task QueueTask) (QueueTask, error)
	// Get returns a task, or ErrNotFound.
	Get(ctx context.Context, id int64) (QueueTask, error)
	// List returns the tasks matching all conditions.
	List(ctx context.Context, conditions []Condition[QueueField], opts ListOptions[QueueField]) ([]QueueTask, error)
	// Update stores the mutable fields of a task in a single statement.
	Update(ctx context.Context, task QueueTask) error
	// Delete soft deletes a task.
	Delete(ctx context.Context, id int64) error
}

// BackupsDB stores BackupRecords. Deleted records are never listed.
type BackupsDB interface {
	// Create inserts a record. A zero CreatedAt is set to the current time.
	Create(ctx context.Context, record BackupRecord) (BackupRecord, error)
	// List returns the records matching all conditions.
	List(ctx context.Context, conditions []Condition[BackupField], opts ListOptions[BackupField]) ([]BackupRecord, error)
	// Delete soft deletes a record.
	Delete(ctx context.Context, id int64) error
}

// ReportsDB stores ReportTimestamps.
type ReportsDB interface {
	Create(ctx context.Context, report ReportTimestamp) (ReportTimestamp, error)
	List(ctx context.Context, conditions []Condition[ReportField], opts ListOptions[ReportField]) ([]ReportTimestamp, error)
	Delete(ctx context.Context, id int64) error
}
