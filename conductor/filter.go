// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package conductor

// Op is a comparison operator of a Condition.
type Op int

// Supported comparison operators.
const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	default:
		return "invalid"
	}
}

// QueueField names a filterable QueueTask column.
type QueueField string

// QueueTask fields.
const (
	QueueID         QueueField = "id"
	QueueVolumeID   QueueField = "volume_id"
	QueueProjectID  QueueField = "project_id"
	QueueInstanceID QueueField = "instance_id"
	QueueBackupID   QueueField = "backup_id"
	QueueStatus     QueueField = "backup_status"
	QueueCreatedAt  QueueField = "created_at"
	QueueUpdatedAt  QueueField = "updated_at"
)

// BackupField names a filterable BackupRecord column.
type BackupField string

// BackupRecord fields.
const (
	BackupID          BackupField = "id"
	BackupVolumeID    BackupField = "volume_id"
	BackupProjectID   BackupField = "project_id"
	BackupInstanceID  BackupField = "instance_id"
	BackupBackupID    BackupField = "backup_id"
	BackupIncremental BackupField = "incremental"
	BackupCompleted   BackupField = "backup_completed"
	BackupCreatedAt   BackupField = "created_at"
)

// ReportField names a filterable ReportTimestamp column.
type ReportField string

// ReportTimestamp fields.
const (
	ReportID        ReportField = "id"
	ReportSentAt    ReportField = "sent_at"
	ReportCreatedAt ReportField = "created_at"
)

// Field is implemented by the field enums.
type Field interface {
	QueueField | BackupField | ReportField
}

// Condition compares a field against a value.
type Condition[F Field] struct {
	Field F
	Op    Op
	Value interface{}
}

// Eq matches rows where field equals value.
func Eq[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpEq, Value: value}
}

// Neq matches rows where field differs from value.
func Neq[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpNeq, Value: value}
}

// Gt matches rows where field is greater than value.
func Gt[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpGt, Value: value}
}

// Gte matches rows where field is greater than or equal to value.
func Gte[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpGte, Value: value}
}

// Lt matches rows where field is less than value.
func Lt[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpLt, Value: value}
}

// Lte matches rows where field is less than or equal to value.
func Lte[F Field](field F, value interface{}) Condition[F] {
	return Condition[F]{Field: field, Op: OpLte, Value: value}
}

// SortDir is the direction of a sorted listing.
type SortDir int

// Sort directions.
const (
	Ascending SortDir = iota
	Descending
)

// ListOptions paginates a listing. Marker continues after the row with
// that id in the sort direction. A zero SortKey sorts by id.
type ListOptions[F Field] struct {
	Limit   int
	Marker  int64
	SortKey F
	SortDir SortDir
}
