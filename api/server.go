// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package api answers whether provider backups are managed by the conductor.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"github.com/StorXNetwork/volumebackup/conductor"
)

var (
	mon = monkit.Package()

	// Error is the default api errs class.
	Error = errs.Class("api")
)

// Config contains configurable values for the query server.
type Config struct {
	Address      string        `help:"address the query server listens on" default:"127.0.0.1:8050" testDefault:"127.0.0.1:0"`
	ReadTimeout  time.Duration `help:"maximum duration for reading a request" default:"10s"`
	WriteTimeout time.Duration `help:"maximum duration for writing a response" default:"10s"`
}

// DB is the part of the conductor database used by the server.
type DB interface {
	Backups() conductor.BackupsDB
	Ping(ctx context.Context) error
}

// Server serves the backup query endpoints.
type Server struct {
	log *zap.Logger
	db  DB

	listener net.Listener
	server   http.Server
}

// NewServer returns a new query server.
func NewServer(log *zap.Logger, listener net.Listener, db DB, config Config) *Server {
	server := &Server{
		log:      log,
		db:       db,
		listener: listener,
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/backup", server.backup).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/health", server.health).Methods(http.MethodGet)

	server.server = http.Server{
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		ErrorLog:     zap.NewStdLog(log),
	}
	return server
}

// Handler returns the router of the server.
func (server *Server) Handler() http.Handler {
	return server.server.Handler
}

// Run starts the server.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errs2.IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes the server and its listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// backup answers True when the backup is not managed by the conductor.
func (server *Server) backup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if err := r.ParseForm(); err != nil {
		server.reply(w, http.StatusBadRequest, "Error: malformed request.")
		return
	}

	backupID := r.Form.Get("backup_id")
	if backupID == "" {
		server.reply(w, http.StatusForbidden, "Error: backup_id is missing.")
		return
	}

	records, err := server.db.Backups().List(ctx, []conductor.Condition[conductor.BackupField]{
		conductor.Eq(conductor.BackupBackupID, backupID),
	}, conductor.ListOptions[conductor.BackupField]{Limit: 1})
	if err != nil {
		server.log.Error("failed to look up backup", zap.String("backup_id", backupID), zap.Error(err))
		server.reply(w, http.StatusInternalServerError, "Error: internal error.")
		return
	}

	server.log.Debug("backup queried",
		zap.String("backup_id", backupID),
		zap.String("user_id", r.Form.Get("user_id")),
		zap.Bool("managed", len(records) > 0))

	server.reply(w, http.StatusOK, boolText(len(records) == 0))
}

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = server.db.Ping(ctx); err != nil {
		server.log.Error("health check failed", zap.Error(err))
		server.reply(w, http.StatusInternalServerError, "Error: database is not reachable.")
		return
	}
	server.reply(w, http.StatusOK, boolText(true))
}

func (server *Server) reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		server.log.Debug("failed to write response", zap.Error(err))
	}
}

// boolText formats a boolean the way clients of the endpoint parse it.
func boolText(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
