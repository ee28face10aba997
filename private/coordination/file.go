// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package coordination

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"
)

// fileBackend takes advisory file locks in a directory. It coordinates
// processes sharing one host or one shared filesystem.
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) (*fileBackend, error) {
	if dir == "" {
		return nil, ErrInvalidConfig.New("file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return Error.Wrap(err)
	}
	if !info.IsDir() {
		return Error.New("%q is not a directory", b.dir)
	}
	return nil
}

func (b *fileBackend) Register(ctx context.Context, member string) error { return nil }

func (b *fileBackend) TryLock(ctx context.Context, key, owner string) (lease, bool, error) {
	path := filepath.Join(b.dir, url.PathEscape(key)+".lock")

	handle, err := fslock.Lock(path)
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return nil, false, nil
		}
		return nil, false, Error.Wrap(err)
	}

	// the holder removes the file on release, a handle opened before that
	// locks an unlinked file and must not count.
	if !lockedCurrentFile(handle, path) {
		return nil, false, Error.Wrap(handle.Unlock())
	}
	return &fileLease{path: path, handle: handle}, true, nil
}

// lockedCurrentFile reports whether handle still locks the file at path.
func lockedCurrentFile(handle fslock.Handle, path string) bool {
	held, err := handle.LockFile().Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func (b *fileBackend) Close() error { return nil }

type fileLease struct {
	path   string
	handle fslock.Handle
}

// Refresh is a no-op, file locks live as long as the handle.
func (l *fileLease) Refresh(ctx context.Context) error { return nil }

func (l *fileLease) Release(ctx context.Context) error {
	removeErr := os.Remove(l.path)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return Error.Wrap(errors.Join(removeErr, l.handle.Unlock()))
}
