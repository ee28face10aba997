// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package openstack implements cloud.Backend on Keystone v3, Nova and
// Cinder v3 through gophercloud.
package openstack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/backups"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/quotasets"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/cloud"
)

// Error is the openstack errs class.
var Error = errs.Class("openstack")

// Config contains the credentials and endpoints of the provider.
type Config struct {
	AuthURL           string        `help:"Keystone v3 endpoint" default:"http://localhost:5000/v3"`
	Username          string        `help:"service account user name" default:""`
	Password          string        `help:"service account password" default:""`
	UserDomainName    string        `help:"domain of the service account" default:"Default"`
	ProjectName       string        `help:"project the service account token is scoped to" default:"admin"`
	ProjectDomainName string        `help:"domain of the scoped project" default:"Default"`
	Region            string        `help:"region of the service endpoints, empty matches any" default:""`
	Interface         string        `help:"endpoint interface to use" default:"public"`
	Timeout           time.Duration `help:"timeout of a single request" default:"1m0s"`
}

// session holds the service clients of one authentication.
type session struct {
	identity *gophercloud.ServiceClient
	compute  *gophercloud.ServiceClient
	volume   *gophercloud.ServiceClient
}

// Backend talks to an OpenStack deployment.
type Backend struct {
	log    *zap.Logger
	config Config

	mu      sync.Mutex
	session *session
}

var _ cloud.Backend = (*Backend)(nil)

// New creates a backend. Authenticate must be called before other methods.
func New(log *zap.Logger, config Config) *Backend {
	return &Backend{
		log:    log,
		config: config,
	}
}

// Authenticate implements cloud.Backend.
func (b *Backend) Authenticate(ctx context.Context) error {
	provider, err := openstack.NewClient(b.config.AuthURL)
	if err != nil {
		return Error.Wrap(err)
	}
	provider.HTTPClient = http.Client{Timeout: b.config.Timeout}

	err = openstack.Authenticate(ctx, provider, gophercloud.AuthOptions{
		IdentityEndpoint: b.config.AuthURL,
		Username:         b.config.Username,
		Password:         b.config.Password,
		DomainName:       b.config.UserDomainName,
		Scope: &gophercloud.AuthScope{
			ProjectName: b.config.ProjectName,
			DomainName:  b.config.ProjectDomainName,
		},
	})
	if err != nil {
		return convertError(err)
	}

	endpoints := gophercloud.EndpointOpts{
		Region:       b.config.Region,
		Availability: gophercloud.Availability(b.config.Interface),
	}
	identity, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return Error.Wrap(err)
	}
	compute, err := openstack.NewComputeV2(provider, endpoints)
	if err != nil {
		return Error.New("service catalog lacks a compute endpoint: %v", err)
	}
	volume, err := openstack.NewBlockStorageV3(provider, endpoints)
	if err != nil {
		return Error.New("service catalog lacks a block storage endpoint: %v", err)
	}

	b.mu.Lock()
	b.session = &session{identity: identity, compute: compute, volume: volume}
	b.mu.Unlock()

	b.log.Debug("authenticated", zap.String("compute", compute.Endpoint), zap.String("volume", volume.Endpoint))
	return nil
}

func (b *Backend) current() (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, Error.New("not authenticated")
	}
	return b.session, nil
}

// convertError turns a response error into *cloud.HTTPError. The message is
// taken from the {"<kind>": {"message": ...}} envelope of the body when
// present.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var coded interface{ GetStatusCode() int }
	if !errors.As(err, &coded) {
		return Error.Wrap(err)
	}

	message := err.Error()
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		if body := envelopeMessage(unexpected.Body); body != "" {
			message = body
		}
	}
	return &cloud.HTTPError{StatusCode: coded.GetStatusCode(), Message: message}
}

func envelopeMessage(data []byte) string {
	var envelope map[string]json.RawMessage
	if json.Unmarshal(data, &envelope) != nil {
		return strings.TrimSpace(string(data))
	}
	for _, raw := range envelope {
		var inner struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &inner) == nil && inner.Message != "" {
			return inner.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// ListProjects implements cloud.Backend.
func (b *Backend) ListProjects(ctx context.Context) ([]cloud.Project, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	pages, err := projects.ListAvailable(s.identity).AllPages(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	available, err := projects.ExtractProjects(pages)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	result := make([]cloud.Project, 0, len(available))
	for _, project := range available {
		if !project.Enabled {
			continue
		}
		result = append(result, cloud.Project{ID: project.ID, Name: project.Name})
	}
	return result, nil
}

// ListServers implements cloud.Backend.
func (b *Backend) ListServers(ctx context.Context, projectID string) ([]cloud.Server, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	pages, err := servers.List(s.compute, servers.ListOpts{
		AllTenants: true,
		TenantID:   projectID,
	}).AllPages(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	listed, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	result := make([]cloud.Server, 0, len(listed))
	for _, item := range listed {
		server := cloud.Server{
			ID:        item.ID,
			Name:      item.Name,
			ProjectID: item.TenantID,
			Metadata:  item.Metadata,
		}
		for _, volume := range item.AttachedVolumes {
			server.AttachedVolumes = append(server.AttachedVolumes, volume.ID)
		}
		result = append(result, server)
	}
	return result, nil
}

// GetVolume implements cloud.Backend.
func (b *Backend) GetVolume(ctx context.Context, projectID, volumeID string) (*cloud.Volume, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	volume, err := volumes.Get(ctx, s.volume, volumeID).Extract()
	if err != nil {
		return nil, convertError(err)
	}
	return &cloud.Volume{
		ID:     volume.ID,
		Name:   volume.Name,
		Status: cloud.VolumeStatus(volume.Status),
		Size:   volume.Size,
	}, nil
}

func convertBackup(backup *backups.Backup) *cloud.Backup {
	return &cloud.Backup{
		ID:          backup.ID,
		VolumeID:    backup.VolumeID,
		Name:        backup.Name,
		Status:      cloud.ParseBackupStatus(backup.Status),
		Incremental: backup.IsIncremental,
		CreatedAt:   backup.CreatedAt.UTC(),
	}
}

// GetBackup implements cloud.Backend.
func (b *Backend) GetBackup(ctx context.Context, projectID, backupID string) (*cloud.Backup, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	backup, err := backups.Get(ctx, s.volume, backupID).Extract()
	if err != nil {
		return nil, convertError(err)
	}
	return convertBackup(backup), nil
}

// CreateBackup implements cloud.Backend.
func (b *Backend) CreateBackup(ctx context.Context, req cloud.CreateBackupRequest) (*cloud.Backup, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	created, err := backups.Create(ctx, s.volume, backups.CreateOpts{
		VolumeID:    req.VolumeID,
		Name:        req.Name,
		Incremental: req.Incremental,
		Force:       req.Force,
	}).Extract()
	if err != nil {
		return nil, convertError(err)
	}

	backup := convertBackup(created)
	backup.VolumeID = req.VolumeID
	backup.Incremental = req.Incremental
	if backup.Status == cloud.BackupUnknown {
		backup.Status = cloud.BackupCreating
	}
	return backup, nil
}

// DeleteBackup implements cloud.Backend.
func (b *Backend) DeleteBackup(ctx context.Context, projectID, backupID string, force bool) error {
	s, err := b.current()
	if err != nil {
		return err
	}

	if force {
		return convertError(backups.ForceDelete(ctx, s.volume, backupID).ExtractErr())
	}
	return convertError(backups.Delete(ctx, s.volume, backupID).ExtractErr())
}

// GetQuota implements cloud.Backend.
func (b *Backend) GetQuota(ctx context.Context, projectID string) (cloud.QuotaSet, error) {
	s, err := b.current()
	if err != nil {
		return cloud.QuotaSet{}, err
	}

	usage, err := quotasets.GetUsage(ctx, s.volume, projectID).Extract()
	if err != nil {
		return cloud.QuotaSet{}, convertError(err)
	}
	return cloud.QuotaSet{
		Backups:         convertQuota(usage.Backups),
		BackupGigabytes: convertQuota(usage.BackupGigabytes),
	}, nil
}

func convertQuota(usage quotasets.QuotaUsage) cloud.Quota {
	return cloud.Quota{
		Limit:    int64(usage.Limit),
		InUse:    int64(usage.InUse),
		Reserved: int64(usage.Reserved),
	}
}
