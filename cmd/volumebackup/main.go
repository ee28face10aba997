// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"github.com/StorXNetwork/volumebackup/api"
	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/cloud/openstack"
	"github.com/StorXNetwork/volumebackup/conductor"
	"github.com/StorXNetwork/volumebackup/private/coordination"
)

// Config is the configuration of every volumebackup command.
type Config struct {
	Database     string `help:"backup database connection string (postgres://... or sqlite3://path)" releaseDefault:"postgres://" devDefault:"sqlite3://file:volumebackup.db"`
	Conductor    conductor.Config
	Cloud        cloud.Config
	OpenStack    openstack.Config
	Coordination coordination.Config
	API          api.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "volumebackup",
		Short: "Scheduled backups of cloud block storage volumes",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a volumebackup process",
	}
	runConductorCmd = &cobra.Command{
		Use:   "conductor",
		Short: "Run the backup and rotation managers",
		RunE:  cmdRunConductor,
	}
	runAPICmd = &cobra.Command{
		Use:   "api",
		Short: "Run the backup query server",
		RunE:  cmdRunAPI,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply backup database migrations",
		RunE:  cmdMigrate,
	}
	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Print the backup queue",
		RunE:  cmdTasks,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg   Config
	setupCfg Config

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storx", "volumebackup")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for volumebackup configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runConductorCmd)
	runCmd.AddCommand(runAPICmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(setupCmd)

	process.Bind(runConductorCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(runAPICmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrateCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(tasksCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return errs.New("volumebackup configuration already exists (%v)", setupDir)
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func main() {
	logger, _, _ := process.NewLogger("volumebackup")
	zap.ReplaceGlobals(logger)

	process.ExecCustomDebug(rootCmd)
}
