// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package coordination

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisBackend stores locks as expiring keys holding the owner token.
type redisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisBackend(backendURL string, ttl time.Duration) (*redisBackend, error) {
	options, err := redis.ParseURL(backendURL)
	if err != nil {
		return nil, ErrInvalidConfig.Wrap(err)
	}
	return &redisBackend{
		client: redis.NewClient(options),
		ttl:    ttl,
	}, nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	return Error.Wrap(b.client.Ping(ctx).Err())
}

func (b *redisBackend) Register(ctx context.Context, member string) error {
	return Error.Wrap(b.client.Set(ctx, "member:"+member, "alive", b.ttl).Err())
}

func (b *redisBackend) TryLock(ctx context.Context, key, owner string) (lease, bool, error) {
	ok, err := b.client.SetNX(ctx, key, owner, b.ttl).Result()
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{backend: b, key: key, owner: owner}, true, nil
}

func (b *redisBackend) Close() error {
	return Error.Wrap(b.client.Close())
}

type redisLease struct {
	backend *redisBackend
	key     string
	owner   string
}

func (l *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.backend.client, []string{l.key}, l.owner, l.backend.ttl.Milliseconds()).Int()
	if err != nil {
		return Error.Wrap(err)
	}
	if n == 0 {
		return Error.New("lock %q is no longer owned", l.key)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.backend.client, []string{l.key}, l.owner).Int()
	return Error.Wrap(err)
}
