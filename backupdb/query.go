// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package backupdb

import (
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/zeebo/errs"

	"github.com/StorXNetwork/volumebackup/conductor"
)

// ErrInvalidFilter is returned for conditions the tables cannot evaluate.
var ErrInvalidFilter = errs.Class("backupdb: invalid filter")

var operators = map[conductor.Op]func(column string, value interface{}) squirrel.Sqlizer{
	conductor.OpEq:  func(column string, value interface{}) squirrel.Sqlizer { return squirrel.Eq{column: value} },
	conductor.OpNeq: func(column string, value interface{}) squirrel.Sqlizer { return squirrel.NotEq{column: value} },
	conductor.OpGt:  func(column string, value interface{}) squirrel.Sqlizer { return squirrel.Gt{column: value} },
	conductor.OpGte: func(column string, value interface{}) squirrel.Sqlizer { return squirrel.GtOrEq{column: value} },
	conductor.OpLt:  func(column string, value interface{}) squirrel.Sqlizer { return squirrel.Lt{column: value} },
	conductor.OpLte: func(column string, value interface{}) squirrel.Sqlizer { return squirrel.LtOrEq{column: value} },
}

// columns is the allow-list of filterable and sortable columns of a table.
type columns[F conductor.Field] map[F]bool

var (
	queueColumns = columns[conductor.QueueField]{
		conductor.QueueID: true, conductor.QueueVolumeID: true, conductor.QueueProjectID: true,
		conductor.QueueInstanceID: true, conductor.QueueBackupID: true, conductor.QueueStatus: true,
		conductor.QueueCreatedAt: true, conductor.QueueUpdatedAt: true,
	}
	backupColumns = columns[conductor.BackupField]{
		conductor.BackupID: true, conductor.BackupVolumeID: true, conductor.BackupProjectID: true,
		conductor.BackupInstanceID: true, conductor.BackupBackupID: true, conductor.BackupIncremental: true,
		conductor.BackupCompleted: true, conductor.BackupCreatedAt: true,
	}
	reportColumns = columns[conductor.ReportField]{
		conductor.ReportID: true, conductor.ReportSentAt: true, conductor.ReportCreatedAt: true,
	}
)

// selectQuery builds a listing of the live rows of table in the placeholder
// format of the dialect.
func selectQuery[F conductor.Field](d dialect, table, fields string, allowed columns[F], conditions []conductor.Condition[F], opts conductor.ListOptions[F]) (string, []interface{}, error) {
	query := squirrel.Select(fields).
		From(table).
		Where(squirrel.Eq{"deleted": false}).
		PlaceholderFormat(d.placeholders)

	for _, condition := range conditions {
		if !allowed[condition.Field] {
			return "", nil, ErrInvalidFilter.New("unknown field %q", string(condition.Field))
		}
		op, ok := operators[condition.Op]
		if !ok {
			return "", nil, ErrInvalidFilter.New("unknown operator %v", condition.Op)
		}
		query = query.Where(op(string(condition.Field), value(condition.Value)))
	}

	sortKey := string(opts.SortKey)
	if sortKey == "" {
		sortKey = "id"
	} else if !allowed[opts.SortKey] {
		return "", nil, ErrInvalidFilter.New("unknown sort key %q", sortKey)
	}

	direction, after := "ASC", ">"
	if opts.SortDir == conductor.Descending {
		direction, after = "DESC", "<"
	}

	if opts.Marker > 0 {
		if sortKey == "id" {
			query = query.Where("id "+after+" ?", opts.Marker)
		} else {
			query = query.Where("("+sortKey+", id) "+after+" (SELECT "+sortKey+", id FROM "+table+" WHERE id = ?)", opts.Marker)
		}
	}

	if sortKey == "id" {
		query = query.OrderBy("id " + direction)
	} else {
		query = query.OrderBy(sortKey+" "+direction, "id "+direction)
	}
	if opts.Limit > 0 {
		query = query.Limit(uint64(opts.Limit))
	}

	sql, args, err := query.ToSql()
	return sql, args, ErrInvalidFilter.Wrap(err)
}

// value converts condition values to driver values.
func value(v interface{}) interface{} {
	switch v := v.(type) {
	case conductor.Status:
		return int64(v)
	case time.Time:
		return v.UTC()
	default:
		return v
	}
}
