// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/process"

	"github.com/StorXNetwork/volumebackup/backupdb"
)

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := backupdb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening backup database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.Migrate(ctx); err != nil {
		return errs.New("error migrating backup database: %+v", err)
	}
	log.Info("backup database migrated")
	return nil
}
