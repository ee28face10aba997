// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package report_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/conductor/report"
)

func TestResult(t *testing.T) {
	result := report.NewResult(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	assert.True(t, result.Empty())

	result.AddProject("p2", "beta")
	result.AddProject("p1", "alpha")
	result.AddProject("p3", "idle")
	result.AddProject("p1", "renamed")

	assert.True(t, result.AddSuccess("p1", "v1", "b1"))
	assert.True(t, result.AddFailure("p2", "v2", "quota exceeded"))
	assert.False(t, result.AddSuccess("unknown", "v3", "b3"))

	projects := result.Projects()
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, []report.Success{{VolumeID: "v1", BackupID: "b1"}}, projects[0].Succeeded)
	assert.Equal(t, "beta", projects[1].Name)
	assert.False(t, result.Empty())
}

func TestRender(t *testing.T) {
	result := report.NewResult(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	result.AddProject("p1", "alpha")
	result.AddSuccess("p1", "v1", "b1")
	result.AddSuccess("p1", "v2", "b2")
	result.AddFailure("p1", "v3", "<script>")
	result.SetQuotas("p1", cloud.QuotaSet{
		Backups:         cloud.Quota{Limit: 10, InUse: 4, Reserved: 1},
		BackupGigabytes: cloud.Quota{Limit: 1000, InUse: 250},
	})

	html, err := report.Render(result)
	require.NoError(t, err)

	assert.Contains(t, html, "2024-06-01T12:00:00Z")
	assert.Contains(t, html, "Project: alpha")
	assert.Contains(t, html, "Backups: Limit: 10, In Use: 4, Reserved: 1, Usage: 50.0%")
	assert.Contains(t, html, "Gigabytes: Limit: 1000, In Use: 250, Reserved: 0, Usage: 25.0%")
	assert.Contains(t, html, "Volume ID: v1, Backup ID: b1<br>Volume ID: v2, Backup ID: b2")
	assert.Contains(t, html, "Reason: &lt;script&gt;")
}

func TestNewSender(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, ok := report.NewSender(log, report.Config{Receivers: " , "}).(*report.LogSender)
	assert.True(t, ok)

	_, ok = report.NewSender(log, report.Config{Receivers: "ops@example.com, dev@example.com"}).(*report.SMTPSender)
	assert.True(t, ok)

	config := report.Config{Receivers: "ops@example.com, dev@example.com"}
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, config.ReceiverList())
}

func TestLogSender(t *testing.T) {
	ctx := testcontext.New(t)
	core, logs := observer.New(zap.InfoLevel)

	require.NoError(t, report.NewLogSender(zap.New(core)).Send(ctx, "Backup result", "<h3>body</h3>"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Backup result", logs.All()[0].ContextMap()["subject"])
}
