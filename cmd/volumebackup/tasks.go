// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"storj.io/common/process"

	"github.com/StorXNetwork/volumebackup/conductor"
)

var tasksLimit int

func init() {
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 100, "maximum number of tasks printed")
}

// taskYAML is the printed form of a queue task.
type taskYAML struct {
	ID          int64     `yaml:"id"`
	Volume      string    `yaml:"volume"`
	Instance    string    `yaml:"instance"`
	Project     string    `yaml:"project"`
	Backup      string    `yaml:"backup,omitempty"`
	Status      string    `yaml:"status"`
	Incremental bool      `yaml:"incremental"`
	Reason      string    `yaml:"reason,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

func cmdTasks(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)

	db, err := openDB(ctx, zap.L())
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	tasks, err := db.Queue().List(ctx, nil, conductor.ListOptions[conductor.QueueField]{
		Limit:   tasksLimit,
		SortKey: conductor.QueueUpdatedAt,
		SortDir: conductor.Descending,
	})
	if err != nil {
		return err
	}

	out := make([]taskYAML, 0, len(tasks))
	for _, task := range tasks {
		backup := task.BackupID
		if backup == conductor.NullBackupID {
			backup = ""
		}
		out = append(out, taskYAML{
			ID:          task.ID,
			Volume:      task.VolumeName + " (" + task.VolumeID + ")",
			Instance:    task.InstanceName + " (" + task.InstanceID + ")",
			Project:     task.ProjectID,
			Backup:      backup,
			Status:      task.Status.String(),
			Incremental: task.Incremental,
			Reason:      task.Reason,
			UpdatedAt:   task.UpdatedAt,
		})
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	defer func() { err = errs.Combine(err, encoder.Close()) }()
	return encoder.Encode(map[string]interface{}{"tasks": out})
}
