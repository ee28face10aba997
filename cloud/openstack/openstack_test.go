// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package openstack_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/volumebackup/cloud"
	"github.com/StorXNetwork/volumebackup/cloud/openstack"
)

const token = "token-1"

// fakeOpenStack serves the subset of the APIs used by the backend.
func fakeOpenStack(t *testing.T) (*httptest.Server, *callLog) {
	calls := &callLog{}
	router := mux.NewRouter()
	var server *httptest.Server

	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			calls.add(r.Method + " " + r.URL.Path)
			if r.Header.Get("X-Auth-Token") != token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	reply := func(w http.ResponseWriter, status int, body interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}

	router.HandleFunc("/identity/v3/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !json.Valid(body) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Subject-Token", token)
		reply(w, http.StatusCreated, map[string]interface{}{
			"token": map[string]interface{}{
				"expires_at": "2099-01-01T00:00:00.000000Z",
				"catalog": []interface{}{
					map[string]interface{}{"type": "compute", "endpoints": []interface{}{
						map[string]string{"interface": "public", "region": "r1", "url": server.URL + "/compute/v2.1"},
						map[string]string{"interface": "internal", "region": "r1", "url": "http://internal"},
					}},
					map[string]interface{}{"type": "block-storage", "endpoints": []interface{}{
						map[string]string{"interface": "public", "region": "r1", "url": server.URL + "/volume/v3/admin/"},
					}},
				},
			},
		})
	}).Methods(http.MethodPost)

	router.HandleFunc("/identity/v3/auth/projects", authorized(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]interface{}{"projects": []interface{}{
			map[string]interface{}{"id": "p1", "name": "one", "enabled": true},
			map[string]interface{}{"id": "p2", "name": "disabled", "enabled": false},
		}})
	}))

	router.HandleFunc("/compute/v2.1/servers/detail", authorized(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("all_tenants"))
		assert.Equal(t, "p1", r.URL.Query().Get("tenant_id"))
		reply(w, http.StatusOK, map[string]interface{}{"servers": []interface{}{
			map[string]interface{}{
				"id": "s1", "name": "web", "tenant_id": "p1",
				"metadata":                            map[string]string{"backup": "true"},
				"os-extended-volumes:volumes_attached": []interface{}{map[string]string{"id": "v1"}},
			},
		}})
	}))

	router.HandleFunc("/volume/v3/admin/volumes/{id}", authorized(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "revoked" {
			reply(w, http.StatusUnauthorized, map[string]interface{}{"error": map[string]interface{}{
				"code": 401, "message": "The request you have made requires authentication.",
			}})
			return
		}
		reply(w, http.StatusOK, map[string]interface{}{"volume": map[string]interface{}{
			"id": mux.Vars(r)["id"], "name": "data", "status": "in-use", "size": 10,
		}})
	}))

	router.HandleFunc("/volume/v3/admin/backups", authorized(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Backup struct {
				VolumeID    string `json:"volume_id"`
				Incremental bool   `json:"incremental"`
			} `json:"backup"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Backup.Incremental {
			reply(w, http.StatusBadRequest, map[string]interface{}{"badRequest": map[string]interface{}{
				"code": 400, "message": "Invalid backup: No backups available to do an incremental backup.",
			}})
			return
		}
		reply(w, http.StatusAccepted, map[string]interface{}{"backup": map[string]string{"id": "b1", "name": "name"}})
	})).Methods(http.MethodPost)

	router.HandleFunc("/volume/v3/admin/backups/{id}", authorized(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "b1" {
			reply(w, http.StatusNotFound, map[string]interface{}{"itemNotFound": map[string]interface{}{
				"code": 404, "message": "Backup could not be found.",
			}})
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		reply(w, http.StatusOK, map[string]interface{}{"backup": map[string]interface{}{
			"id": "b1", "volume_id": "v1", "status": "available", "is_incremental": true,
			"created_at": "2024-05-01T10:00:00.000000",
		}})
	}))

	router.HandleFunc("/volume/v3/admin/backups/{id}/action", authorized(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Contains(t, in, "os-force_delete")
		w.WriteHeader(http.StatusAccepted)
	})).Methods(http.MethodPost)

	router.HandleFunc("/volume/v3/admin/os-quota-sets/{project}", authorized(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("usage"))
		reply(w, http.StatusOK, map[string]interface{}{"quota_set": map[string]interface{}{
			"backups":          map[string]int{"limit": 10, "in_use": 2, "reserved": 1},
			"backup_gigabytes": map[string]int{"limit": 100, "in_use": 40, "reserved": 0},
		}})
	}))

	server = httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, calls
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (log *callLog) add(call string) {
	log.mu.Lock()
	defer log.mu.Unlock()
	log.calls = append(log.calls, call)
}

func (log *callLog) list() []string {
	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]string(nil), log.calls...)
}

func newBackend(t *testing.T, server *httptest.Server) *openstack.Backend {
	return openstack.New(zaptest.NewLogger(t), openstack.Config{
		AuthURL:           server.URL + "/identity/v3/",
		Username:          "admin",
		Password:          "secret",
		UserDomainName:    "Default",
		ProjectName:       "admin",
		ProjectDomainName: "Default",
		Region:            "r1",
		Interface:         "public",
		Timeout:           5 * time.Second,
	})
}

func TestBackendRequiresAuthentication(t *testing.T) {
	ctx := testcontext.New(t)
	server, _ := fakeOpenStack(t)

	_, err := newBackend(t, server).ListProjects(ctx)
	require.Error(t, err)
	assert.True(t, openstack.Error.Has(err))
}

func TestBackend(t *testing.T) {
	ctx := testcontext.New(t)
	server, calls := fakeOpenStack(t)

	backend := newBackend(t, server)
	require.NoError(t, backend.Authenticate(ctx))

	projects, err := backend.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cloud.Project{{ID: "p1", Name: "one"}}, projects)

	servers, err := backend.ListServers(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, cloud.Server{
		ID: "s1", Name: "web", ProjectID: "p1",
		Metadata:        map[string]string{"backup": "true"},
		AttachedVolumes: []string{"v1"},
	}, servers[0])

	volume, err := backend.GetVolume(ctx, "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, cloud.VolumeInUse, volume.Status)

	backup, err := backend.CreateBackup(ctx, cloud.CreateBackupRequest{VolumeID: "v1", ProjectID: "p1", Name: "name", Force: true})
	require.NoError(t, err)
	assert.Equal(t, "b1", backup.ID)
	assert.Equal(t, cloud.BackupCreating, backup.Status)

	backup, err = backend.GetBackup(ctx, "p1", "b1")
	require.NoError(t, err)
	assert.Equal(t, cloud.BackupAvailable, backup.Status)
	assert.True(t, backup.Incremental)
	assert.Equal(t, time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC), backup.CreatedAt)

	require.NoError(t, backend.DeleteBackup(ctx, "p1", "b1", false))
	require.NoError(t, backend.DeleteBackup(ctx, "p1", "b1", true))

	quota, err := backend.GetQuota(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, cloud.Quota{Limit: 10, InUse: 2, Reserved: 1}, quota.Backups)
	assert.Equal(t, int64(40), quota.BackupGigabytes.InUse)

	assert.Contains(t, calls.list(), "POST /volume/v3/admin/backups/b1/action")
	assert.Contains(t, calls.list(), "DELETE /volume/v3/admin/backups/b1")
}

func TestBackendErrors(t *testing.T) {
	ctx := testcontext.New(t)
	server, _ := fakeOpenStack(t)

	backend := newBackend(t, server)
	require.NoError(t, backend.Authenticate(ctx))

	_, err := backend.GetBackup(ctx, "p1", "missing")
	require.True(t, cloud.IsNotFound(err))
	httpErr, ok := cloud.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, "Backup could not be found.", httpErr.Message)

	_, err = backend.CreateBackup(ctx, cloud.CreateBackupRequest{VolumeID: "v1", Incremental: true})
	require.True(t, cloud.ErrIncrementalWithoutFull.Has(cloud.ClassifyMessage(err)))

	_, err = backend.GetVolume(ctx, "p1", "revoked")
	require.Error(t, err)
	assert.True(t, cloud.IsUnauthorized(err))
}

func TestBackendRejectedCredentials(t *testing.T) {
	ctx := testcontext.New(t)
	server, _ := fakeOpenStack(t)

	backend := openstack.New(zaptest.NewLogger(t), openstack.Config{
		AuthURL:  server.URL + "/identity/v3/",
		Username: "admin",
		Password: "secret",
	})
	err := backend.Authenticate(ctx)
	require.Error(t, err, "a user name without a domain is rejected before any request")

	_, err = backend.ListProjects(ctx)
	require.Error(t, err)
	assert.True(t, openstack.Error.Has(err))
}
