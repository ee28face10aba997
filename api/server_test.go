// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package api_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/api"
	"github.com/StorXNetwork/volumebackup/backupdb"
	"github.com/StorXNetwork/volumebackup/backupdb/backupdbtest"
	"github.com/StorXNetwork/volumebackup/conductor"
)

func TestServer(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		_, err := db.Backups().Create(ctx, conductor.BackupRecord{
			VolumeID: "v1", ProjectID: "p1", InstanceID: "i1", BackupID: "b1", Completed: true,
		})
		require.NoError(t, err)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		server := api.NewServer(zaptest.NewLogger(t), listener, db, api.Config{})
		runCtx, cancel := context.WithCancel(ctx)
		ctx.Go(func() error { return server.Run(runCtx) })
		defer cancel()

		base := "http://" + listener.Addr().String()

		get := func(path string) (int, string) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			return resp.StatusCode, string(body)
		}

		status, body := get("/v1/backup?backup_id=b1&user_id=u1")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "False", body)

		status, body = get("/v1/backup?backup_id=unknown")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "True", body)

		status, body = get("/v1/backup")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "Error: backup_id is missing.", body)

		status, body = get("/v1/health")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "True", body)

		form := url.Values{"backup_id": {"b1"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/backup", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		posted, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "False", string(posted))
	})
}

func TestServerDeletedRecord(t *testing.T) {
	backupdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *backupdb.DB) {
		record, err := db.Backups().Create(ctx, conductor.BackupRecord{
			VolumeID: "v1", ProjectID: "p1", InstanceID: "i1", BackupID: "b1", Completed: true,
		})
		require.NoError(t, err)
		require.NoError(t, db.Backups().Delete(ctx, record.ID))

		server := api.NewServer(zaptest.NewLogger(t), nil, db, api.Config{})
		require.NoError(t, server.Run(ctx))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/v1/backup?backup_id=b1", nil)
		require.NoError(t, err)
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "True", recorder.Body.String())
	})
}
