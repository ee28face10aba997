// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package conductor drives the backup task queue and the rotation of old
// backups.
package conductor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/cloud"
)

var mon = monkit.Package()

// Cloud is the provider as used by the controller.
type Cloud interface {
	Reconnect(ctx context.Context) error
	ListProjects(ctx context.Context) ([]cloud.Project, error)
	ListServers(ctx context.Context, projectID string) ([]cloud.Server, error)
	GetVolume(ctx context.Context, projectID, volumeID string) (*cloud.Volume, error)
	GetBackup(ctx context.Context, projectID, backupID string) (*cloud.Backup, error)
	CreateBackup(ctx context.Context, req cloud.CreateBackupRequest) (*cloud.Backup, error)
	DeleteBackup(ctx context.Context, projectID, backupID string, force bool) error
	GetQuota(ctx context.Context, projectID string) (cloud.QuotaSet, error)
}

// Locker runs fn under a named lock when the lock is free.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// Controller implements the transitions of queue tasks and backup records.
//
// architecture: Service
type Controller struct {
	log    *zap.Logger
	db     DB
	cloud  Cloud
	config Config

	nowFn func() time.Time

	mu       sync.Mutex
	projects map[string]cloud.Project
}

// NewController creates a new controller.
func NewController(log *zap.Logger, db DB, provider Cloud, config Config) *Controller {
	return &Controller{
		log:      log,
		db:       db,
		cloud:    provider,
		config:   config,
		nowFn:    time.Now,
		projects: map[string]cloud.Project{},
	}
}

// SetNow replaces the clock of the controller.
func (controller *Controller) SetNow(now func() time.Time) {
	controller.nowFn = now
}

func (controller *Controller) now() time.Time {
	return controller.nowFn().UTC()
}

// retryAuth calls fn again once after reconnecting when it fails with an
// authorization error.
func retryAuth[T any](ctx context.Context, controller *Controller, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if !cloud.IsUnauthorized(err) {
		return result, err
	}

	mon.Counter("conductor_reconnects").Inc(1)
	controller.log.Warn("token has been expired or rotated, reconnecting", zap.Error(err))
	if rerr := controller.cloud.Reconnect(ctx); rerr != nil {
		return result, errs.Combine(err, rerr)
	}
	return fn(ctx)
}

// UpdateProjectList refreshes the accessible projects.
func (controller *Controller) UpdateProjectList(ctx context.Context) (_ []cloud.Project, err error) {
	defer mon.Task()(&ctx)(&err)

	projects, err := retryAuth(ctx, controller, func(ctx context.Context) ([]cloud.Project, error) {
		return controller.cloud.ListProjects(ctx)
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sort.Slice(projects, func(i, k int) bool { return projects[i].ID < projects[k].ID })

	accessible := make(map[string]cloud.Project, len(projects))
	for _, project := range projects {
		accessible[project.ID] = project
	}

	controller.mu.Lock()
	controller.projects = accessible
	controller.mu.Unlock()

	return projects, nil
}

// Project returns an accessible project from the last UpdateProjectList.
func (controller *Controller) Project(id string) (cloud.Project, bool) {
	controller.mu.Lock()
	defer controller.mu.Unlock()
	project, ok := controller.projects[id]
	return project, ok
}

// Projects returns the accessible projects sorted by id.
func (controller *Controller) Projects() []cloud.Project {
	controller.mu.Lock()
	defer controller.mu.Unlock()
	projects := make([]cloud.Project, 0, len(controller.projects))
	for _, project := range controller.projects {
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, k int) bool { return projects[i].ID < projects[k].ID })
	return projects
}

// OpenTasks returns tasks that are neither completed nor failed.
func (controller *Controller) OpenTasks(ctx context.Context) (_ []QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)
	tasks, err := controller.db.Queue().List(ctx, []Condition[QueueField]{
		Neq(QueueStatus, StatusCompleted),
		Neq(QueueStatus, StatusFailed),
	}, ListOptions[QueueField]{})
	return tasks, Error.Wrap(err)
}

// ToDoTasks returns tasks waiting for a backup request, oldest first.
func (controller *Controller) ToDoTasks(ctx context.Context) (_ []QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)

	var tasks []QueueTask
	for _, status := range []Status{StatusPlanned, StatusInit} {
		list, err := controller.db.Queue().List(ctx, []Condition[QueueField]{Eq(QueueStatus, status)}, ListOptions[QueueField]{})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		tasks = append(tasks, list...)
	}
	sort.Slice(tasks, func(i, k int) bool { return tasks[i].ID < tasks[k].ID })
	return tasks, nil
}

// WIPTasks returns tasks whose backup is in progress.
func (controller *Controller) WIPTasks(ctx context.Context) (_ []QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)
	tasks, err := controller.db.Queue().List(ctx, []Condition[QueueField]{Eq(QueueStatus, StatusWIP)}, ListOptions[QueueField]{})
	return tasks, Error.Wrap(err)
}

// TerminalTasks returns completed and failed tasks.
func (controller *Controller) TerminalTasks(ctx context.Context) (_ []QueueTask, err error) {
	defer mon.Task()(&ctx)(&err)

	var tasks []QueueTask
	for _, status := range []Status{StatusCompleted, StatusFailed} {
		list, err := controller.db.Queue().List(ctx, []Condition[QueueField]{Eq(QueueStatus, status)}, ListOptions[QueueField]{})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		tasks = append(tasks, list...)
	}
	sort.Slice(tasks, func(i, k int) bool { return tasks[i].ID < tasks[k].ID })
	return tasks, nil
}

// isolate runs fn with its own timeout and turns a panic into an error, so
// one task cannot abort its siblings.
func (controller *Controller) isolate(ctx context.Context, name string, fields []zap.Field, fn func(ctx context.Context) error) (err error) {
	if controller.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, controller.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			mon.Counter("conductor_task_panics").Inc(1)
			controller.log.Error("panic in "+name, append(fields, zap.Any("error", recovered))...)
			controller.log.Error("stack", zap.String("stack", stack.Trace().String()))
			err = Error.New("panic in %s: %v", name, recovered)
		}
	}()

	return fn(ctx)
}
