// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"time"
	"unicode/utf8"
)

// Status is the state of a QueueTask.
type Status int

// Task states. The numeric values are persisted.
const (
	// StatusPlanned is a task discovered this cycle without a backup request.
	StatusPlanned Status = 0
	// StatusWIP is a task whose backup was accepted by the provider.
	StatusWIP Status = 1
	// StatusCompleted is a task whose backup is available.
	StatusCompleted Status = 2
	// StatusFailed is a task whose backup failed or timed out.
	StatusFailed Status = 3
	// StatusInit is a task claimed by a worker that is about to request a backup.
	StatusInit Status = 4
)

// Terminal reports whether no further transition is possible.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed
}

// Claimable reports whether a worker may pick up the task for a backup
// request. INIT tasks are picked up to be failed.
func (status Status) Claimable() bool {
	return status == StatusPlanned || status == StatusInit
}

func (status Status) String() string {
	switch status {
	case StatusPlanned:
		return "planned"
	case StatusWIP:
		return "wip"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusInit:
		return "init"
	default:
		return "unknown"
	}
}

// NullBackupID marks a task for which no backup was requested yet.
const NullBackupID = "NULL"

// Length limits of persisted text.
const (
	MaxDisplayNameLength = 100
	MaxBackupNameLength  = 255
	MaxReasonLength      = 255
)

// QueueTask is one backup attempt for one volume.
type QueueTask struct {
	ID           int64
	VolumeID     string
	ProjectID    string
	InstanceID   string
	BackupID     string
	Status       Status
	VolumeName   string
	InstanceName string
	Incremental  bool
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BackupRecord is the durable record of a backup that reached an outcome.
type BackupRecord struct {
	ID         int64
	VolumeID   string
	ProjectID  string
	InstanceID string
	BackupID   string
	// Incremental is true for backups stored as a delta of a prior backup.
	Incremental bool
	// Completed is false for records of failed backups.
	Completed bool
	CreatedAt time.Time
}

// ReportTimestamp marks a published report.
type ReportTimestamp struct {
	ID        int64
	SentAt    time.Time
	CreatedAt time.Time
}

// FailedRecordTime is the creation time of records of failed backups, so
// that the next rotation reconsiders them immediately.
var FailedRecordTime = time.Unix(0, 0).UTC()

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
