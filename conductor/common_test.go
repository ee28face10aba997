// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/backupdb"
	"github.com/StorXNetwork/volumebackup/backupdb/backupdbtest"
	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/cloud/cloudtest"
	"github.com/StorXNetwork/volumebackup/conductor"
	"github.com/StorXNetwork/volumebackup/private/coordination"
)

var epoch = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sender records the reports it is asked to send.
type sender struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (s *sender) Send(ctx context.Context, subject, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.bodies = append(s.bodies, html)
	return nil
}

func (s *sender) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

// env is a conductor wired to an in-memory provider and a test database.
type env struct {
	t          *testing.T
	db         *backupdb.DB
	backend    *cloudtest.Backend
	client     *cloud.Client
	clock      *clock
	config     conductor.Config
	lockURL    string
	controller *conductor.Controller
	sender     *sender
}

func testConfig() conductor.Config {
	return conductor.Config{
		BackupServicePeriod:    time.Hour,
		BackupCycleTimeout:     "5min",
		ResultCheckInterval:    time.Millisecond,
		BackupMinInterval:      30 * time.Minute,
		FullBackupDepth:        2,
		BackupWorkers:          1,
		RetentionServicePeriod: time.Hour,
		RetentionTime:          "7d",
		RotationWorkers:        1,
		ReportPeriod:           24 * time.Hour,
		TaskTimeout:            time.Minute,
	}
}

// run runs test against every test database with a fresh provider holding
// project p1 with server s1 and volume v1.
func run(t *testing.T, configure func(config *conductor.Config), test func(ctx *testcontext.Context, env *env)) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		config := testConfig()
		if configure != nil {
			configure(&config)
		}

		backend := cloudtest.New()
		backend.AddProject(cloud.Project{ID: "p1", Name: "alpha"})
		backend.AddServer(cloud.Server{ID: "s1", Name: "web", ProjectID: "p1"},
			cloud.Volume{ID: "v1", Name: "data", Status: cloud.VolumeInUse})

		policy, err := cloud.NewRetryPolicy(cloud.Config{SkipRetryCodes: "404", MaxRetryInterval: time.Millisecond, RetryTimeout: 10 * time.Millisecond})
		require.NoError(t, err)
		policy.InitialInterval = time.Millisecond

		log := zaptest.NewLogger(t)
		client := cloud.NewClient(log.Named("cloud"), backend, policy)

		e := &env{
			t:       t,
			db:      db,
			backend: backend,
			client:  client,
			clock:   &clock{now: epoch},
			config:  config,
			lockURL: "memory://" + t.Name(),
			sender:  &sender{},
		}
		backend.SetNow(e.clock.Now)
		e.controller = e.newController(client)
		test(ctx, e)
	})
}

func (e *env) newController(provider conductor.Cloud) *conductor.Controller {
	controller := conductor.NewController(zaptest.NewLogger(e.t).Named("controller"), e.db, provider, e.config)
	controller.SetNow(e.clock.Now)
	return controller
}

func (e *env) locker(ctx *testcontext.Context) *coordination.Coordinator {
	locker, err := coordination.New(ctx, zaptest.NewLogger(e.t).Named("coordination"), coordination.Config{
		BackendURL:        e.lockURL,
		Prefix:            "test-",
		LockTTL:           time.Minute,
		HeartbeatInterval: time.Second,
	})
	require.NoError(e.t, err)
	e.t.Cleanup(func() { require.NoError(e.t, locker.Close()) })
	return locker
}

func (e *env) backupManager(ctx *testcontext.Context, controller *conductor.Controller, locker conductor.Locker) *conductor.BackupManager {
	manager := conductor.NewBackupManager(zaptest.NewLogger(e.t).Named("backup"), controller, locker, e.sender, e.config)
	e.t.Cleanup(func() { require.NoError(e.t, manager.Close()) })
	return manager
}

func (e *env) tasks(ctx *testcontext.Context) []conductor.QueueTask {
	tasks, err := e.db.Queue().List(ctx, nil, conductor.ListOptions[conductor.QueueField]{})
	require.NoError(e.t, err)
	return tasks
}

func (e *env) records(ctx *testcontext.Context) []conductor.BackupRecord {
	records, err := e.db.Backups().List(ctx, nil, conductor.ListOptions[conductor.BackupField]{})
	require.NoError(e.t, err)
	return records
}

func (e *env) addRecord(ctx *testcontext.Context, record conductor.BackupRecord) conductor.BackupRecord {
	if record.ProjectID == "" {
		record.ProjectID = "p1"
	}
	if record.InstanceID == "" {
		record.InstanceID = "s1"
	}
	if record.VolumeID == "" {
		record.VolumeID = "v1"
	}
	created, err := e.db.Backups().Create(ctx, record)
	require.NoError(e.t, err)
	return created
}

func (e *env) addTask(ctx *testcontext.Context, task conductor.QueueTask) conductor.QueueTask {
	if task.ProjectID == "" {
		task.ProjectID = "p1"
	}
	if task.InstanceID == "" {
		task.InstanceID = "s1"
	}
	if task.VolumeID == "" {
		task.VolumeID = "v1"
	}
	if task.BackupID == "" {
		task.BackupID = conductor.NullBackupID
	}
	created, err := e.db.Queue().Create(ctx, task)
	require.NoError(e.t, err)
	return created
}

func (e *env) updateProjects(ctx *testcontext.Context) {
	_, err := e.controller.UpdateProjectList(ctx)
	require.NoError(e.t, err)
}
