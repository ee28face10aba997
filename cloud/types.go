// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package cloud

import (
	"time"
)

// Project is a tenant the service account can act on.
type Project struct {
	ID   string
	Name string
}

// Server is a compute instance with its attached volumes.
type Server struct {
	ID              string
	Name            string
	ProjectID       string
	Metadata        map[string]string
	AttachedVolumes []string
}

// Volume is a block storage volume.
type Volume struct {
	ID     string
	Name   string
	Status VolumeStatus
	Size   int
}

// Backup is a provider side backup of a volume.
type Backup struct {
	ID          string
	VolumeID    string
	Name        string
	Status      BackupStatus
	Incremental bool
	CreatedAt   time.Time
}

// CreateBackupRequest describes a backup to request.
type CreateBackupRequest struct {
	VolumeID    string
	ProjectID   string
	Name        string
	Incremental bool
	// Force allows backing up volumes attached to a running server.
	Force bool
}

// Quota is a single quota entry of a project.
type Quota struct {
	Limit    int64
	InUse    int64
	Reserved int64
}

// Usage returns (in use + reserved) / limit. Unlimited or zero limits report 0.
func (quota Quota) Usage() float64 {
	if quota.Limit <= 0 {
		return 0
	}
	return float64(quota.InUse+quota.Reserved) / float64(quota.Limit)
}

// QuotaSet holds the backup related quotas of a project.
type QuotaSet struct {
	Backups         Quota
	BackupGigabytes Quota
}

// BackupStatus is the provider reported state of a backup.
type BackupStatus int

// Known backup states.
const (
	BackupUnknown BackupStatus = iota
	BackupCreating
	BackupAvailable
	BackupError
	BackupDeleting
	BackupRestoring
	BackupErrorRestoring
)

var backupStatusNames = map[BackupStatus]string{
	BackupUnknown:        "unknown",
	BackupCreating:       "creating",
	BackupAvailable:      "available",
	BackupError:          "error",
	BackupDeleting:       "deleting",
	BackupRestoring:      "restoring",
	BackupErrorRestoring: "error_restoring",
}

// ParseBackupStatus maps a provider status string to BackupStatus.
func ParseBackupStatus(s string) BackupStatus {
	for status, name := range backupStatusNames {
		if name == s {
			return status
		}
	}
	return BackupUnknown
}

func (status BackupStatus) String() string {
	if name, ok := backupStatusNames[status]; ok {
		return name
	}
	return "unknown"
}

// VolumeStatus is the provider reported state of a volume.
type VolumeStatus string

// Volume states relevant for backups.
const (
	VolumeAvailable VolumeStatus = "available"
	VolumeInUse     VolumeStatus = "in-use"
)

// Backupable reports whether a backup can be requested for the volume.
func (status VolumeStatus) Backupable() bool {
	return status == VolumeAvailable || status == VolumeInUse
}
