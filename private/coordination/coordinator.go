// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package coordination implements named, non-blocking distributed locks
// shared by all conductor processes.
package coordination

import (
	"context"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/common/uuid"
)

var mon = monkit.Package()

var (
	// Error is the default coordination errs class.
	Error = errs.Class("coordination")

	// ErrInvalidConfig is returned when the coordination configuration is invalid.
	ErrInvalidConfig = errs.Class("coordination: invalid config")
)

// Well known lock names.
const (
	// LockPuller elects the worker that runs fleet wide discovery.
	LockPuller = "puller"
	// LockRetention serializes the rotation of old backups.
	LockRetention = "retention"
)

// Config contains configurable values for the lock coordinator.
type Config struct {
	BackendURL        string        `help:"lock coordination backend URL (redis://host:port/db, file:///path/to/dir or memory://name)" default:"file:///var/lib/volumebackup/locks" testDefault:"memory://test"`
	Prefix            string        `help:"prefix used to namespace lock names" default:"volumebackup-"`
	LockTTL           time.Duration `help:"lease of a held lock on backends which expire locks" default:"30s"`
	HeartbeatInterval time.Duration `help:"how often membership and held locks are refreshed" default:"10s"`
}

// Validate checks the configuration.
func (config *Config) Validate() error {
	if config.BackendURL == "" {
		return ErrInvalidConfig.New("BackendURL is required")
	}
	if config.LockTTL <= 0 {
		return ErrInvalidConfig.New("LockTTL must be positive")
	}
	if config.HeartbeatInterval <= 0 || config.HeartbeatInterval >= config.LockTTL {
		return ErrInvalidConfig.New("HeartbeatInterval must be positive and shorter than LockTTL")
	}
	return nil
}

// backend is a lock store.
type backend interface {
	// TryLock makes a single attempt to take key for owner.
	TryLock(ctx context.Context, key, owner string) (lease, bool, error)
	// Register announces the member as alive.
	Register(ctx context.Context, member string) error
	Ping(ctx context.Context) error
	Close() error
}

// lease is a held lock.
type lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Coordinator keeps a single connection to the lock backend for the process.
//
// architecture: Service
type Coordinator struct {
	log    *zap.Logger
	config Config

	backend  backend
	memberID string
	sequence atomic.Int64

	// Loop heartbeats the membership and the held locks.
	Loop *sync2.Cycle

	mu   sync.Mutex
	held map[string]lease
}

// New connects to the configured backend. A connection failure is returned
// to the caller, since nothing useful can be done without locks.
func New(ctx context.Context, log *zap.Logger, config Config) (_ *Coordinator, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	b, err := openBackend(config)
	if err != nil {
		return nil, err
	}
	if err := b.Ping(ctx); err != nil {
		return nil, errs.Combine(Error.New("backend unreachable: %w", err), b.Close())
	}

	id, err := uuid.New()
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), b.Close())
	}

	coordinator := &Coordinator{
		log:      log,
		config:   config,
		backend:  b,
		memberID: config.Prefix + id.String(),
		Loop:     sync2.NewCycle(config.HeartbeatInterval),
		held:     map[string]lease{},
	}
	if err := b.Register(ctx, coordinator.memberID); err != nil {
		return nil, errs.Combine(Error.Wrap(err), b.Close())
	}

	log.Info("coordinator started", zap.String("member", coordinator.memberID), zap.String("backend", redact(config.BackendURL)))
	return coordinator, nil
}

func openBackend(config Config) (backend, error) {
	u, err := url.Parse(config.BackendURL)
	if err != nil {
		return nil, ErrInvalidConfig.Wrap(err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return newRedisBackend(config.BackendURL, config.LockTTL)
	case "file":
		return newFileBackend(u.Path)
	case "memory":
		return newMemoryBackend(u.Host + u.Path), nil
	default:
		return nil, ErrInvalidConfig.New("unsupported backend %q", u.Scheme)
	}
}

// MemberID returns the identity of this process.
func (coordinator *Coordinator) MemberID() string { return coordinator.memberID }

// Run heartbeats until the context is canceled.
func (coordinator *Coordinator) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return coordinator.Loop.Run(ctx, func(ctx context.Context) error {
		coordinator.heartbeat(ctx)
		return nil
	})
}

func (coordinator *Coordinator) heartbeat(ctx context.Context) {
	if err := coordinator.backend.Register(ctx, coordinator.memberID); err != nil {
		coordinator.log.Warn("membership heartbeat failed", zap.Error(err))
	}

	coordinator.mu.Lock()
	leases := make(map[string]lease, len(coordinator.held))
	for key, l := range coordinator.held {
		leases[key] = l
	}
	coordinator.mu.Unlock()

	for key, l := range leases {
		if err := l.Refresh(ctx); err != nil {
			mon.Counter("coordination_refresh_failures").Inc(1)
			coordinator.log.Warn("failed to refresh lock", zap.String("lock", key), zap.Error(err))
		}
	}
}

// WithLock runs fn while holding the named lock. The lock is tried once: when
// another owner holds it, or when the backend cannot be reached, fn is not
// called and acquired is false. The lock is released on every exit path of fn.
func (coordinator *Coordinator) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (acquired bool, err error) {
	defer mon.Task()(&ctx)(&err)

	key := coordinator.Key(name)
	owner := coordinator.memberID + "/" + strconv.FormatInt(coordinator.sequence.Add(1), 10)

	l, ok, err := coordinator.backend.TryLock(ctx, key, owner)
	if err != nil {
		mon.Counter("coordination_acquire_errors").Inc(1)
		coordinator.log.Warn("lock backend failed, skipping protected work", zap.String("lock", name), zap.Error(err))
		return false, nil
	}
	if !ok {
		mon.Counter("coordination_lock_contended").Inc(1)
		coordinator.log.Debug("lock held by another owner", zap.String("lock", name))
		return false, nil
	}
	coordinator.log.Debug("acquired lock", zap.String("lock", name))

	coordinator.mu.Lock()
	coordinator.held[key] = l
	coordinator.mu.Unlock()

	defer func() {
		coordinator.mu.Lock()
		delete(coordinator.held, key)
		coordinator.mu.Unlock()

		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			coordinator.log.Warn("failed to release lock", zap.String("lock", name), zap.Error(rerr))
			return
		}
		coordinator.log.Debug("released lock", zap.String("lock", name))
	}()

	return true, fn(ctx)
}

// Key returns the namespaced backend key for name.
func (coordinator *Coordinator) Key(name string) string {
	if !utf8.ValidString(name) {
		name = hex.EncodeToString([]byte(name))
	}
	return coordinator.config.Prefix + name
}

// Close releases every held lock and disconnects from the backend.
func (coordinator *Coordinator) Close() error {
	coordinator.Loop.Close()

	coordinator.mu.Lock()
	leases := coordinator.held
	coordinator.held = map[string]lease{}
	coordinator.mu.Unlock()

	var group errs.Group
	for _, l := range leases {
		group.Add(l.Release(context.Background()))
	}
	group.Add(coordinator.backend.Close())
	return Error.Wrap(group.Err())
}

func redact(backendURL string) string {
	u, err := url.Parse(backendURL)
	if err != nil {
		return strings.SplitN(backendURL, "://", 2)[0]
	}
	return u.Redacted()
}
