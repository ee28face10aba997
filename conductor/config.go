// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/conductor/report"
	"github.com/StorXNetwork/volumebackup/private/reltime"
)

var (
	// Error is the default conductor errs class.
	Error = errs.Class("conductor")

	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errs.Class("conductor: invalid config")

	// ErrNotFound is returned by the database when a row does not exist.
	ErrNotFound = errs.Class("conductor: not found")
)

// Defaults applied when a relative time option does not parse.
const (
	DefaultBackupCycleTimeout = "5min"
	DefaultRetentionTime      = "2w3d"
)

// BackupEnabledValue is the metadata value opting a server into backups.
const BackupEnabledValue = "true"

// Config contains configurable values for the backup and rotation managers.
type Config struct {
	BackupServicePeriod time.Duration `help:"how often the backup manager runs" releaseDefault:"30m" devDefault:"1m" testDefault:"$TESTINTERVAL"`
	BackupCycleTimeout  string        `help:"how long a cycle waits for backups in progress, <YEARS>y<MONTHS>mon<WEEKS>w<DAYS>d<HOURS>h<MINUTES>min<SECONDS>s" default:"5min"`
	ResultCheckInterval time.Duration `help:"interval between two status checks of backups in progress" default:"1m" testDefault:"10ms"`
	BackupMinInterval   time.Duration `help:"minimum interval between two backups of a volume, 0 disables the throttle" default:"30m"`
	FullBackupDepth     int           `help:"number of recent backups searched for a full backup before requesting an incremental one, 0 disables incremental backups" default:"2"`
	BackupMetadataKey   string        `help:"server metadata key opting the server into backups, empty backs up every server" default:""`
	BackupWorkers       int           `help:"number of concurrent backup managers" default:"1"`

	RetentionServicePeriod time.Duration `help:"how often the rotation manager runs" releaseDefault:"20m" devDefault:"1m" testDefault:"$TESTINTERVAL"`
	RetentionTime          string        `help:"default age after which backups are removed, <YEARS>y<MONTHS>mon<WEEKS>w<DAYS>d<HOURS>h<MINUTES>min<SECONDS>s" default:"2w3d"`
	RetentionMetadataKey   string        `help:"server metadata key holding a per server retention time" default:""`
	RetentionSoftRemove    bool          `help:"only remove backups which are not in transition and keep errored ones on the provider" default:"false"`
	RotationDeletePause    time.Duration `help:"pause between two backup deletions during rotation" default:"1s" testDefault:"0"`
	RotationWorkers        int           `help:"number of concurrent rotation managers" default:"1"`

	ReportPeriod time.Duration `help:"minimum interval between two result reports" default:"24h"`

	TaskTimeout time.Duration `help:"timeout of processing a single task" default:"5m0s"`

	Report report.Config
}

// Validate checks the configuration. Relative time strings are not checked
// here, invalid ones fall back to their default with a warning.
func (config *Config) Validate() error {
	if config.BackupServicePeriod <= 0 {
		return ErrInvalidConfig.New("BackupServicePeriod must be positive")
	}
	if config.RetentionServicePeriod <= 0 {
		return ErrInvalidConfig.New("RetentionServicePeriod must be positive")
	}
	if config.BackupMinInterval < 0 {
		return ErrInvalidConfig.New("BackupMinInterval must not be negative")
	}
	if config.FullBackupDepth < 0 {
		return ErrInvalidConfig.New("FullBackupDepth must not be negative")
	}
	if config.BackupWorkers < 0 || config.RotationWorkers < 0 {
		return ErrInvalidConfig.New("worker counts must not be negative")
	}
	if config.ReportPeriod <= 0 {
		return ErrInvalidConfig.New("ReportPeriod must be positive")
	}
	return nil
}

func (config *Config) cycleTimeout(log *zap.Logger) reltime.Offset {
	return reltime.ParseOrDefault(log, "backup-cycle-timeout", config.BackupCycleTimeout, DefaultBackupCycleTimeout)
}

func (config *Config) retentionTime(log *zap.Logger) reltime.Offset {
	return reltime.ParseOrDefault(log, "retention-time", config.RetentionTime, DefaultRetentionTime)
}
