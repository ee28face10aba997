// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package backupdb

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/StorXNetwork/volumebackup/conductor"
)

const reportFields = "id, sent_at, created_at"

// reportsDB implements conductor.ReportsDB.
type reportsDB struct {
	db *DB
}

func scanReport(row interface{ Scan(...interface{}) error }) (report conductor.ReportTimestamp, err error) {
	err = row.Scan(&report.ID, &report.SentAt, &report.CreatedAt)
	report.SentAt, report.CreatedAt = report.SentAt.UTC(), report.CreatedAt.UTC()
	return report, err
}

// Create implements conductor.ReportsDB.
func (reports *reportsDB) Create(ctx context.Context, report conductor.ReportTimestamp) (_ conductor.ReportTimestamp, err error) {
	defer mon.Task()(&ctx)(&err)

	now := reports.db.now()
	if report.SentAt.IsZero() {
		report.SentAt = now
	}

	row := reports.db.db.QueryRowContext(ctx, reports.db.rebind(`
		INSERT INTO report_timestamp (sent_at, created_at, updated_at)
		VALUES (?, ?, ?)
		RETURNING `+reportFields),
		report.SentAt.UTC(), now, now)

	created, err := scanReport(row)
	return created, Error.Wrap(err)
}

// List implements conductor.ReportsDB.
func (reports *reportsDB) List(ctx context.Context, conditions []conductor.Condition[conductor.ReportField], opts conductor.ListOptions[conductor.ReportField]) (_ []conductor.ReportTimestamp, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, err := selectQuery(reports.db.dialect, "report_timestamp", reportFields, reportColumns, conditions, opts)
	if err != nil {
		return nil, err
	}

	rows, err := reports.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var list []conductor.ReportTimestamp
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		list = append(list, report)
	}
	return list, Error.Wrap(rows.Err())
}

// Delete implements conductor.ReportsDB.
func (reports *reportsDB) Delete(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return reports.db.softDelete(ctx, "report_timestamp", id)
}
