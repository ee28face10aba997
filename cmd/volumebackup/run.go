// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"net"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/errs2"
	"storj.io/common/process"

	"github.com/StorXNetwork/volumebackup/api"
	"github.com/StorXNetwork/volumebackup/backupdb"
	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/cloud/openstack"
	"github.com/StorXNetwork/volumebackup/conductor"
	"github.com/StorXNetwork/volumebackup/conductor/report"
	"github.com/StorXNetwork/volumebackup/private/coordination"
	"github.com/StorXNetwork/volumebackup/private/lifecycle"
)

// openDB opens the backup database and checks its schema is current.
func openDB(ctx context.Context, log *zap.Logger) (*backupdb.DB, error) {
	if runCfg.Database == "" || runCfg.Database == "postgres://" {
		return nil, errs.New("database connection string is not configured, set --database or configure it in the config file")
	}

	db, err := backupdb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return nil, errs.New("error opening backup database: %+v", err)
	}
	if err := db.CheckVersion(ctx); err != nil {
		return nil, errs.Combine(errs.New("backup database is not migrated, run the migrate command: %+v", err), db.Close())
	}
	return db, nil
}

func cmdRunConductor(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if err := runCfg.Cloud.Validate(); err != nil {
		return err
	}
	policy, err := cloud.NewRetryPolicy(runCfg.Cloud)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	locker, err := coordination.New(ctx, log.Named("coordination"), runCfg.Coordination)
	if err != nil {
		log.Error("lock backend is unreachable", zap.Error(err))
		return errs.New("failed to start coordination: %+v", err)
	}

	client := cloud.NewClient(log.Named("cloud"), openstack.New(log.Named("openstack"), runCfg.OpenStack), policy)
	if err := client.Reconnect(ctx); err != nil {
		return errs.Combine(errs.New("failed to authenticate on the provider: %+v", err), locker.Close())
	}

	sender := report.NewSender(log.Named("report"), runCfg.Conductor.Report)

	service, err := conductor.NewService(log.Named("conductor"), db, client, locker, sender, runCfg.Conductor)
	if err != nil {
		return errs.Combine(err, locker.Close())
	}
	service.Services.Add(lifecycle.Item{
		Name:  "coordination",
		Run:   locker.Run,
		Close: locker.Close,
	})
	defer func() { err = errs.Combine(err, service.Close()) }()

	log.Info("starting conductor",
		zap.Int("backup_workers", runCfg.Conductor.BackupWorkers),
		zap.Int("rotation_workers", runCfg.Conductor.RotationWorkers),
		zap.String("member", locker.MemberID()),
	)

	return errs2.IgnoreCanceled(service.Run(ctx))
}

func cmdRunAPI(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	listener, err := net.Listen("tcp", runCfg.API.Address)
	if err != nil {
		return errs.New("failed to listen on %s: %+v", runCfg.API.Address, err)
	}

	server := api.NewServer(log.Named("api"), listener, db, runCfg.API)
	defer func() { err = errs.Combine(err, server.Close()) }()

	log.Info("starting query server", zap.String("address", listener.Addr().String()))

	return errs2.IgnoreCanceled(server.Run(ctx))
}
