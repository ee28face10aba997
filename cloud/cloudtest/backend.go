// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cloudtest implements an in-memory provider for tests.
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/StorXNetwork/volumebackup/cloud"
)

// Operation names accepted by FailNext.
const (
	OpAuthenticate = "authenticate"
	OpListProjects = "list projects"
	OpListServers  = "list servers"
	OpGetVolume    = "get volume"
	OpGetBackup    = "get backup"
	OpCreateBackup = "create backup"
	OpDeleteBackup = "delete backup"
	OpGetQuota     = "get quota"
)

// Backend is an in-memory cloud.Backend.
type Backend struct {
	mu sync.Mutex

	projects []cloud.Project
	servers  []cloud.Server
	volumes  map[string]cloud.Volume
	backups  map[string]*storedBackup
	quotas   map[string]cloud.QuotaSet
	failures map[string][]error

	nextID          int
	initialStatus   cloud.BackupStatus
	now             func() time.Time
	authentications int
	creates         []cloud.CreateBackupRequest
	deletes         []DeleteCall
}

type storedBackup struct {
	projectID string
	backup    cloud.Backup
}

// DeleteCall records a DeleteBackup invocation.
type DeleteCall struct {
	ProjectID string
	BackupID  string
	Force     bool
}

var _ cloud.Backend = (*Backend)(nil)

// New creates an empty provider.
func New() *Backend {
	return &Backend{
		volumes:  map[string]cloud.Volume{},
		backups:  map[string]*storedBackup{},
		quotas:   map[string]cloud.QuotaSet{},
		failures: map[string][]error{},
		now:      time.Now,

		initialStatus: cloud.BackupCreating,
	}
}

// SetInitialStatus sets the status of backups created afterwards.
func (b *Backend) SetInitialStatus(status cloud.BackupStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialStatus = status
}

// SetNow replaces the clock used for backup creation times.
func (b *Backend) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// AddProject adds an accessible project.
func (b *Backend) AddProject(project cloud.Project) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects = append(b.projects, project)
}

// RemoveProject makes a project inaccessible.
func (b *Backend) RemoveProject(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, project := range b.projects {
		if project.ID == projectID {
			b.projects = append(b.projects[:i], b.projects[i+1:]...)
			return
		}
	}
}

// AddServer adds a server together with its attached volumes.
func (b *Backend) AddServer(server cloud.Server, volumes ...cloud.Volume) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, volume := range volumes {
		b.volumes[volume.ID] = volume
		server.AttachedVolumes = append(server.AttachedVolumes, volume.ID)
	}
	b.servers = append(b.servers, server)
}

// SetVolumeStatus changes the status of a volume.
func (b *Backend) SetVolumeStatus(volumeID string, status cloud.VolumeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	volume := b.volumes[volumeID]
	volume.Status = status
	b.volumes[volumeID] = volume
}

// AddBackup stores an existing backup.
func (b *Backend) AddBackup(projectID string, backup cloud.Backup) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backups[backup.ID] = &storedBackup{projectID: projectID, backup: backup}
}

// SetBackupStatus changes the status of a backup.
func (b *Backend) SetBackupStatus(backupID string, status cloud.BackupStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stored, ok := b.backups[backupID]; ok {
		stored.backup.Status = status
	}
}

// Backup returns a stored backup.
func (b *Backend) Backup(backupID string) (cloud.Backup, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.backups[backupID]
	if !ok {
		return cloud.Backup{}, false
	}
	return stored.backup, true
}

// SetQuota sets the quotas of a project.
func (b *Backend) SetQuota(projectID string, quota cloud.QuotaSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotas[projectID] = quota
}

// FailNext makes the next call of op return err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// Authentications returns how many times Authenticate was called.
func (b *Backend) Authentications() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authentications
}

// Creates returns the CreateBackup requests received.
func (b *Backend) Creates() []cloud.CreateBackupRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cloud.CreateBackupRequest(nil), b.creates...)
}

// Deletes returns the DeleteBackup calls received.
func (b *Backend) Deletes() []DeleteCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeleteCall(nil), b.deletes...)
}

func (b *Backend) failure(op string) error {
	queue := b.failures[op]
	if len(queue) == 0 {
		return nil
	}
	b.failures[op] = queue[1:]
	return queue[0]
}

func (b *Backend) accessible(projectID string) bool {
	for _, project := range b.projects {
		if project.ID == projectID {
			return true
		}
	}
	return false
}

// Authenticate implements cloud.Backend.
func (b *Backend) Authenticate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authentications++
	return b.failure(OpAuthenticate)
}

// ListProjects implements cloud.Backend.
func (b *Backend) ListProjects(ctx context.Context) ([]cloud.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(OpListProjects); err != nil {
		return nil, err
	}
	return append([]cloud.Project(nil), b.projects...), nil
}

// ListServers implements cloud.Backend.
func (b *Backend) ListServers(ctx context.Context, projectID string) ([]cloud.Server, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(OpListServers); err != nil {
		return nil, err
	}
	var servers []cloud.Server
	for _, server := range b.servers {
		if projectID == "" || server.ProjectID == projectID {
			servers = append(servers, server)
		}
	}
	return servers, nil
}

// GetVolume implements cloud.Backend.
func (b *Backend) GetVolume(ctx context.Context, projectID, volumeID string) (*cloud.Volume, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(OpGetVolume); err != nil {
		return nil, err
	}
	volume, ok := b.volumes[volumeID]
	if !ok {
		return nil, cloud.ErrNotFound.New("volume %s", volumeID)
	}
	return &volume, nil
}

// GetBackup implements cloud.Backend.
func (b *Backend) GetBackup(ctx context.Context, projectID, backupID string) (*cloud.Backup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(OpGetBackup); err != nil {
		return nil, err
	}
	stored, ok := b.backups[backupID]
	if !ok {
		return nil, &cloud.HTTPError{StatusCode: http.StatusNotFound, Message: "Backup " + backupID + " could not be found."}
	}
	backup := stored.backup
	return &backup, nil
}

// CreateBackup implements cloud.Backend. New backups start in creating
// state unless SetInitialStatus changed it.
func (b *Backend) CreateBackup(ctx context.Context, req cloud.CreateBackupRequest) (*cloud.Backup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(b.creates, req)
	if err := b.failure(OpCreateBackup); err != nil {
		return nil, err
	}
	if _, ok := b.volumes[req.VolumeID]; !ok {
		return nil, cloud.ErrNotFound.New("volume %s", req.VolumeID)
	}
	if req.Incremental && !b.hasFullBackup(req.VolumeID) {
		return nil, &cloud.HTTPError{StatusCode: http.StatusBadRequest, Message: "Invalid backup: No backups available to do an incremental backup."}
	}

	b.nextID++
	backup := cloud.Backup{
		ID:          fmt.Sprintf("b%d", b.nextID),
		VolumeID:    req.VolumeID,
		Name:        req.Name,
		Status:      b.initialStatus,
		Incremental: req.Incremental,
		CreatedAt:   b.now(),
	}
	b.backups[backup.ID] = &storedBackup{projectID: req.ProjectID, backup: backup}
	return &backup, nil
}

func (b *Backend) hasFullBackup(volumeID string) bool {
	for _, stored := range b.backups {
		if stored.backup.VolumeID == volumeID && !stored.backup.Incremental && stored.backup.Status == cloud.BackupAvailable {
			return true
		}
	}
	return false
}

// DeleteBackup implements cloud.Backend. A backup cannot be deleted while
// newer incremental backups of the same volume exist, unless forced.
func (b *Backend) DeleteBackup(ctx context.Context, projectID, backupID string, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, DeleteCall{ProjectID: projectID, BackupID: backupID, Force: force})
	if err := b.failure(OpDeleteBackup); err != nil {
		return err
	}
	stored, ok := b.backups[backupID]
	if !ok {
		return &cloud.HTTPError{StatusCode: http.StatusNotFound, Message: "Backup " + backupID + " could not be found."}
	}
	if !force {
		if dependents := b.dependents(stored.backup); len(dependents) > 0 {
			return &cloud.HTTPError{StatusCode: http.StatusBadRequest, Message: "Invalid backup: Incremental backups exist for this backup: " + dependents[0]}
		}
	}
	delete(b.backups, backupID)
	return nil
}

func (b *Backend) dependents(parent cloud.Backup) []string {
	var ids []string
	for id, stored := range b.backups {
		backup := stored.backup
		if id != parent.ID && backup.VolumeID == parent.VolumeID && backup.Incremental && backup.CreatedAt.After(parent.CreatedAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetQuota implements cloud.Backend.
func (b *Backend) GetQuota(ctx context.Context, projectID string) (cloud.QuotaSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(OpGetQuota); err != nil {
		return cloud.QuotaSet{}, err
	}
	if !b.accessible(projectID) {
		return cloud.QuotaSet{}, cloud.ErrNotFound.New("project %s", projectID)
	}
	return b.quotas[projectID], nil
}
