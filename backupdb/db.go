// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package backupdb implements the conductor database on PostgreSQL and
// SQLite.
package backupdb

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver.
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver.
	"github.com/pressly/goose/v3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/volumebackup/conductor"
)

var (
	mon = monkit.Package()

	// Error is the default backupdb errs class.
	Error = errs.Class("backupdb")

	// ErrUnsupported is returned for database URLs without a known scheme.
	ErrUnsupported = errs.Class("backupdb: unsupported database")
)

//go:embed migrations
var migrations embed.FS

// goose keeps its dialect and file system in package state.
var migrateMu sync.Mutex

// dialect abstracts the differences between the supported databases.
type dialect struct {
	driver string
	goose  string
	dir    string

	placeholders squirrel.PlaceholderFormat
}

var (
	postgres = dialect{driver: "pgx", goose: "postgres", dir: "migrations/postgres", placeholders: squirrel.Dollar}
	sqlite3  = dialect{driver: "sqlite3", goose: "sqlite3", dir: "migrations/sqlite3", placeholders: squirrel.Question}
)

// DB implements conductor.DB.
//
// architecture: Database
type DB struct {
	log     *zap.Logger
	db      *sql.DB
	dialect dialect
	source  string
	nowFn   func() time.Time
}

var _ conductor.DB = (*DB)(nil)

// Open opens the database at databaseURL. postgres:// and postgresql:// URLs
// use PostgreSQL, sqlite3:// URLs and sqlite: DSNs use SQLite.
func Open(ctx context.Context, log *zap.Logger, databaseURL string) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	d, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if d == sqlite3 {
		// one connection keeps in-memory databases and writers consistent.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}

	log.Debug("database opened", zap.String("driver", d.driver))
	return &DB{
		log:     log,
		db:      db,
		dialect: d,
		source:  databaseURL,
		nowFn:   time.Now,
	}, nil
}

func parseURL(databaseURL string) (dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		return sqlite3, strings.TrimPrefix(databaseURL, "sqlite3://"), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return sqlite3, strings.TrimPrefix(databaseURL, "sqlite:"), nil
	default:
		scheme, _, _ := strings.Cut(databaseURL, ":")
		return dialect{}, "", ErrUnsupported.New("%q", scheme)
	}
}

// Migrate applies the embedded schema migrations.
func (db *DB) Migrate(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(db.dialect.goose); err != nil {
		return Error.Wrap(err)
	}
	if err := goose.UpContext(ctx, db.db, db.dialect.dir); err != nil {
		return Error.Wrap(err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.db)
	if err != nil {
		return Error.Wrap(err)
	}
	db.log.Info("database migrated", zap.Int64("version", version))
	return nil
}

// CheckVersion returns an error when migrations are pending.
func (db *DB) CheckVersion(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	migrateMu.Lock()
	defer migrateMu.Unlock()

	if err := goose.SetDialect(db.dialect.goose); err != nil {
		return Error.Wrap(err)
	}
	current, err := goose.GetDBVersionContext(ctx, db.db)
	if err != nil {
		return Error.Wrap(err)
	}

	sub, err := fs.Sub(migrations, db.dialect.dir)
	if err != nil {
		return Error.Wrap(err)
	}
	files, err := fs.Glob(sub, "*.sql")
	if err != nil {
		return Error.Wrap(err)
	}
	if current < int64(len(files)) {
		return Error.New("database version %d is behind %d, run migrate", current, len(files))
	}
	return nil
}

// Queue implements conductor.DB.
func (db *DB) Queue() conductor.QueueDB { return &queueDB{db: db} }

// Backups implements conductor.DB.
func (db *DB) Backups() conductor.BackupsDB { return &backupsDB{db: db} }

// Reports implements conductor.DB.
func (db *DB) Reports() conductor.ReportsDB { return &reportsDB{db: db} }

// Ping implements conductor.DB.
func (db *DB) Ping(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	var one int
	return Error.Wrap(db.db.QueryRowContext(ctx, "SELECT 1").Scan(&one))
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

func (db *DB) now() time.Time {
	return db.nowFn().UTC()
}

// rebind replaces ? placeholders for the dialect.
func (db *DB) rebind(query string) string {
	rebound, err := db.dialect.placeholders.ReplacePlaceholders(query)
	if err != nil {
		// the formats only fail writing to an in-memory buffer.
		return query
	}
	return rebound
}
