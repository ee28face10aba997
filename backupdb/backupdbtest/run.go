// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package backupdbtest runs tests against every configured database.
package backupdbtest

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/backupdb"
)

// PostgresEnv names the environment variable holding a PostgreSQL URL. Tests
// run against PostgreSQL only when it is set.
const PostgresEnv = "VOLUMEBACKUP_TEST_POSTGRES"

var counter atomic.Int64

// Database is a database a test runs against.
type Database struct {
	Name string
	URL  string
}

// Databases returns the databases configured for tests.
func Databases(t *testing.T) []Database {
	n := counter.Add(1)
	databases := []Database{{
		Name: "Sqlite",
		URL:  fmt.Sprintf("sqlite3://file:%s-%d?mode=memory&cache=shared", sanitize(t.Name()), n),
	}}
	if base := os.Getenv(PostgresEnv); base != "" {
		databases = append(databases, Database{Name: "Postgres", URL: base})
	}
	return databases
}

// Run runs test against every configured database with migrations applied.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB)) {
	for _, database := range Databases(t) {
		database := database
		t.Run(database.Name, func(t *testing.T) {
			ctx := testcontext.New(t)
			log := zaptest.NewLogger(t)

			databaseURL := database.URL
			if database.Name == "Postgres" {
				databaseURL = isolate(t, database.URL)
			}

			db, err := backupdb.Open(ctx, log, databaseURL)
			require.NoError(t, err)
			defer ctx.Check(db.Close)

			require.NoError(t, db.Migrate(ctx))

			test(ctx, t, db)
		})
	}
}

// isolate creates a schema for the test and returns a URL using it.
func isolate(t *testing.T, base string) string {
	schema := fmt.Sprintf("test_%s_%d", strings.ToLower(sanitize(t.Name())), counter.Add(1))
	if len(schema) > 60 {
		schema = schema[len(schema)-60:]
	}

	admin, err := sql.Open("pgx", base)
	require.NoError(t, err)
	_, err = admin.Exec(`CREATE SCHEMA "` + schema + `"`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(`DROP SCHEMA "` + schema + `" CASCADE`)
		_ = admin.Close()
	})

	parsed, err := url.Parse(base)
	require.NoError(t, err)
	query := parsed.Query()
	query.Set("search_path", schema)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
}
