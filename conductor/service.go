// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/StorXNetwork/volumebackup/conductor/report"
	"github.com/StorXNetwork/volumebackup/private/lifecycle"
)

// Service runs the backup and rotation managers of one process.
//
// architecture: Peer
type Service struct {
	Log        *zap.Logger
	Controller *Controller

	Backup   []*BackupManager
	Rotation []*RotationManager

	Services *lifecycle.Group
}

// NewService creates the managers configured by config. Further items, such
// as the lock heartbeat, can be added to Services before Run.
func NewService(log *zap.Logger, db DB, provider Cloud, locker Locker, sender report.Sender, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	service := &Service{
		Log:        log,
		Controller: NewController(log.Named("controller"), db, provider, config),
		Services:   lifecycle.NewGroup(log.Named("services")),
	}

	for i := 0; i < config.BackupWorkers; i++ {
		name := fmt.Sprintf("backup:%d", i)
		manager := NewBackupManager(log.Named(name), service.Controller, locker, sender, config)
		service.Backup = append(service.Backup, manager)
		service.Services.Add(lifecycle.Item{
			Name:  name,
			Run:   manager.Run,
			Close: manager.Close,
		})
	}

	for i := 0; i < config.RotationWorkers; i++ {
		name := fmt.Sprintf("rotation:%d", i)
		manager := NewRotationManager(log.Named(name), service.Controller, locker, config)
		service.Rotation = append(service.Rotation, manager)
		service.Services.Add(lifecycle.Item{
			Name:  name,
			Run:   manager.Run,
			Close: manager.Close,
		})
	}

	return service, nil
}

// Run runs the managers until one fails or the context is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	service.Services.Run(ctx, group)
	return group.Wait()
}

// Close stops the managers.
func (service *Service) Close() error {
	return service.Services.Close()
}
