// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/conductor/report"
)

// reportHistory is the number of report periods timestamps are kept for.
const reportHistory = 10

// ReportIfDue publishes a report when the last one is older than
// ReportPeriod. It returns whether a report was sent.
func (controller *Controller) ReportIfDue(ctx context.Context, sender report.Sender) (sent bool, err error) {
	defer mon.Task()(&ctx)(&err)

	now := controller.now()
	last, err := controller.db.Reports().List(ctx, nil, ListOptions[ReportField]{
		Limit:   1,
		SortKey: ReportSentAt,
		SortDir: Descending,
	})
	if err != nil {
		return false, Error.Wrap(err)
	}
	if len(last) > 0 && now.Sub(last[0].SentAt) < controller.config.ReportPeriod {
		return false, nil
	}

	sent, err = controller.PublishReport(ctx, sender)
	if err != nil || !sent {
		return sent, err
	}

	if _, err := controller.db.Reports().Create(ctx, ReportTimestamp{SentAt: now}); err != nil {
		return true, Error.Wrap(err)
	}
	return true, controller.purgeReports(ctx, now)
}

// PublishReport sends the outcomes of terminal tasks and purges them once
// the report was delivered. Tasks of projects that are no longer accessible
// are reported under the project ID. Without terminal tasks nothing is sent.
func (controller *Controller) PublishReport(ctx context.Context, sender report.Sender) (sent bool, err error) {
	defer mon.Task()(&ctx)(&err)

	tasks, err := controller.TerminalTasks(ctx)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}

	result := report.NewResult(controller.now())
	for _, task := range tasks {
		if project, ok := controller.Project(task.ProjectID); ok {
			result.AddProject(project.ID, project.Name)
		} else {
			result.AddProject(task.ProjectID, task.ProjectID)
		}
		switch task.Status {
		case StatusCompleted:
			result.AddSuccess(task.ProjectID, task.VolumeID, task.BackupID)
		case StatusFailed:
			result.AddFailure(task.ProjectID, task.VolumeID, task.Reason)
		}
	}

	for _, project := range result.Projects() {
		if _, ok := controller.Project(project.ID); !ok {
			continue
		}
		quotas, err := retryAuth(ctx, controller, func(ctx context.Context) (cloud.QuotaSet, error) {
			return controller.cloud.GetQuota(ctx, project.ID)
		})
		if err != nil {
			controller.log.Warn("failed to get backup quota", zap.String("project_id", project.ID), zap.Error(err))
			continue
		}
		result.SetQuotas(project.ID, quotas)
	}

	if !result.Empty() {
		html, err := report.Render(result)
		if err != nil {
			return false, Error.Wrap(err)
		}
		if err := sender.Send(ctx, controller.config.Report.Subject, html); err != nil {
			return false, Error.Wrap(err)
		}
		mon.Counter("conductor_reports_sent").Inc(1)
	}

	for _, task := range tasks {
		if err := controller.db.Queue().Delete(ctx, task.ID); err != nil {
			return true, Error.Wrap(err)
		}
	}
	return true, nil
}

// purgeReports deletes timestamps older than the kept history.
func (controller *Controller) purgeReports(ctx context.Context, now time.Time) error {
	stale, err := controller.db.Reports().List(ctx, []Condition[ReportField]{
		Lt(ReportSentAt, now.Add(-reportHistory*controller.config.ReportPeriod)),
	}, ListOptions[ReportField]{})
	if err != nil {
		return Error.Wrap(err)
	}
	for _, timestamp := range stale {
		if err := controller.db.Reports().Delete(ctx, timestamp.ID); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
