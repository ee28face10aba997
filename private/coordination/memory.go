// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package coordination

import (
	"context"
	"sync"
)

// memoryNamespaces shares lock tables between coordinators of one process
// that use the same memory:// name.
var memoryNamespaces = struct {
	mu     sync.Mutex
	tables map[string]*memoryBackend
}{tables: map[string]*memoryBackend{}}

// memoryBackend keeps locks in process memory.
type memoryBackend struct {
	mu    sync.Mutex
	locks map[string]string
}

func newMemoryBackend(name string) *memoryBackend {
	memoryNamespaces.mu.Lock()
	defer memoryNamespaces.mu.Unlock()

	b, ok := memoryNamespaces.tables[name]
	if !ok {
		b = &memoryBackend{locks: map[string]string{}}
		memoryNamespaces.tables[name] = b
	}
	return b
}

func (b *memoryBackend) Ping(ctx context.Context) error                    { return nil }
func (b *memoryBackend) Register(ctx context.Context, member string) error { return nil }
func (b *memoryBackend) Close() error                                      { return nil }

func (b *memoryBackend) TryLock(ctx context.Context, key, owner string) (lease, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, held := b.locks[key]; held {
		return nil, false, nil
	}
	b.locks[key] = owner
	return &memoryLease{backend: b, key: key, owner: owner}, true, nil
}

type memoryLease struct {
	backend *memoryBackend
	key     string
	owner   string
}

func (l *memoryLease) Refresh(ctx context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()

	if l.backend.locks[l.key] != l.owner {
		return Error.New("lock %q is no longer owned", l.key)
	}
	return nil
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()

	if l.backend.locks[l.key] == l.owner {
		delete(l.backend.locks, l.key)
	}
	return nil
}
