// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package cloud

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"
)

// RetryPolicy decides which provider failures are retried and how long.
//
// Only *HTTPError failures whose status code is not skipped are retried.
// Authorization failures are never retried here, the caller reconnects.
type RetryPolicy struct {
	SkipCodes       []int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// NewRetryPolicy creates the policy described by config.
func NewRetryPolicy(config Config) (RetryPolicy, error) {
	codes, err := config.skipCodes()
	if err != nil {
		return RetryPolicy{}, err
	}
	return RetryPolicy{
		SkipCodes:       codes,
		InitialInterval: time.Second,
		MaxInterval:     config.MaxRetryInterval,
		Timeout:         config.RetryTimeout,
	}, nil
}

// Retryable reports whether err is worth another attempt.
func (policy RetryPolicy) Retryable(err error) bool {
	httpErr, ok := AsHTTPError(err)
	if !ok {
		return false
	}
	if httpErr.StatusCode == http.StatusForbidden || httpErr.StatusCode == http.StatusUnauthorized {
		return false
	}
	for _, code := range policy.SkipCodes {
		if code == httpErr.StatusCode {
			return false
		}
	}
	return true
}

// Backoff returns the wait before retry number attempt, starting at 1.
func (policy RetryPolicy) Backoff(attempt int) time.Duration {
	wait := policy.InitialInterval
	if wait <= 0 {
		wait = time.Second
	}
	for i := 1; i < attempt; i++ {
		wait *= 2
		if policy.MaxInterval > 0 && wait >= policy.MaxInterval {
			return policy.MaxInterval
		}
	}
	if policy.MaxInterval > 0 && wait > policy.MaxInterval {
		return policy.MaxInterval
	}
	return wait
}

// Retry calls fn until it succeeds, fails with a non retryable error or the
// policy timeout is exhausted. The last error is returned.
func Retry[T any](ctx context.Context, log *zap.Logger, policy RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	now := policy.now
	if now == nil {
		now = time.Now
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = sync2.Sleep
	}

	start := now()
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil || !policy.Retryable(err) {
			return result, err
		}

		wait := policy.Backoff(attempt)
		if now().Sub(start)+wait > policy.Timeout {
			mon.Counter("cloud_retry_exhausted").Inc(1)
			log.Warn("giving up retrying provider call",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return result, err
		}

		mon.Counter("cloud_retry_total").Inc(1)
		log.Debug("retrying provider call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))

		if !sleep(ctx, wait) {
			var zero T
			return zero, ctx.Err()
		}
	}
}

func parseCodes(s string) ([]int, error) {
	var codes []int
	for _, field := range splitList(s) {
		code, err := strconv.Atoi(field)
		if err != nil || code < 100 || code > 599 {
			return nil, ErrInvalidConfig.New("invalid HTTP status code %q", field)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
