// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cloud implements a retrying client over the block storage provider.
package cloud

import (
	"context"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// Config contains configurable values for provider calls.
type Config struct {
	SkipRetryCodes   string        `help:"comma separated HTTP status codes which are never retried" default:"404"`
	MaxRetryInterval time.Duration `help:"maximum interval between two retries of a failed provider call" default:"30s"`
	RetryTimeout     time.Duration `help:"overall time budget for retrying a failed provider call" default:"5m0s" testDefault:"1s"`
}

// Validate checks the configuration.
func (config *Config) Validate() error {
	if _, err := config.skipCodes(); err != nil {
		return err
	}
	if config.MaxRetryInterval < 0 {
		return ErrInvalidConfig.New("MaxRetryInterval must not be negative")
	}
	if config.RetryTimeout <= 0 {
		return ErrInvalidConfig.New("RetryTimeout must be positive")
	}
	return nil
}

func (config *Config) skipCodes() ([]int, error) {
	return parseCodes(config.SkipRetryCodes)
}

func splitList(s string) []string {
	var fields []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// Backend is the provider API. Missing resources are reported with
// ErrNotFound or an HTTPError with status 404.
type Backend interface {
	// Authenticate (re)establishes the provider session.
	Authenticate(ctx context.Context) error
	ListProjects(ctx context.Context) ([]Project, error)
	// ListServers lists servers of projectID, or of every project when empty.
	ListServers(ctx context.Context, projectID string) ([]Server, error)
	GetVolume(ctx context.Context, projectID, volumeID string) (*Volume, error)
	GetBackup(ctx context.Context, projectID, backupID string) (*Backup, error)
	CreateBackup(ctx context.Context, req CreateBackupRequest) (*Backup, error)
	DeleteBackup(ctx context.Context, projectID, backupID string, force bool) error
	GetQuota(ctx context.Context, projectID string) (QuotaSet, error)
}

// Client wraps a Backend with the retry policy and not found handling.
type Client struct {
	log     *zap.Logger
	backend Backend
	retry   RetryPolicy
}

// NewClient creates a new client.
func NewClient(log *zap.Logger, backend Backend, retry RetryPolicy) *Client {
	return &Client{
		log:     log,
		backend: backend,
		retry:   retry,
	}
}

// Reconnect re-authenticates against the provider.
func (client *Client) Reconnect(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.log.Info("reconnecting to provider")
	return Error.Wrap(client.backend.Authenticate(ctx))
}

// ListProjects lists the projects the service account can act on.
func (client *Client) ListProjects(ctx context.Context) (_ []Project, err error) {
	defer mon.Task()(&ctx)(&err)
	return Retry(ctx, client.log, client.retry, "list projects", client.backend.ListProjects)
}

// ListServers lists the servers of projectID, or of every project when empty.
func (client *Client) ListServers(ctx context.Context, projectID string) (_ []Server, err error) {
	defer mon.Task()(&ctx)(&err)
	return Retry(ctx, client.log, client.retry, "list servers", func(ctx context.Context) ([]Server, error) {
		return client.backend.ListServers(ctx, projectID)
	})
}

// GetVolume returns a volume.
func (client *Client) GetVolume(ctx context.Context, projectID, volumeID string) (_ *Volume, err error) {
	defer mon.Task()(&ctx)(&err)
	return Retry(ctx, client.log, client.retry, "get volume", func(ctx context.Context) (*Volume, error) {
		return client.backend.GetVolume(ctx, projectID, volumeID)
	})
}

// GetBackup returns a backup, or nil when it does not exist.
func (client *Client) GetBackup(ctx context.Context, projectID, backupID string) (_ *Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	backup, err := Retry(ctx, client.log, client.retry, "get backup", func(ctx context.Context) (*Backup, error) {
		return client.backend.GetBackup(ctx, projectID, backupID)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return backup, err
}

// CreateBackup requests a new backup. Creation is not retried, a retry could
// allocate a second backup.
func (client *Client) CreateBackup(ctx context.Context, req CreateBackupRequest) (_ *Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	backup, err := client.backend.CreateBackup(ctx, req)
	if err != nil {
		return nil, ClassifyMessage(err)
	}
	return backup, nil
}

// DeleteBackup deletes a backup. A missing backup is not an error.
func (client *Client) DeleteBackup(ctx context.Context, projectID, backupID string, force bool) (err error) {
	defer mon.Task()(&ctx)(&err)
	_, err = Retry(ctx, client.log, client.retry, "delete backup", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, client.backend.DeleteBackup(ctx, projectID, backupID, force)
	})
	if IsNotFound(err) {
		return nil
	}
	return ClassifyMessage(err)
}

// GetQuota returns the backup quotas of a project.
func (client *Client) GetQuota(ctx context.Context, projectID string) (_ QuotaSet, err error) {
	defer mon.Task()(&ctx)(&err)
	return Retry(ctx, client.log, client.retry, "get quota", func(ctx context.Context) (QuotaSet, error) {
		return client.backend.GetQuota(ctx, projectID)
	})
}
