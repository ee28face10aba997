// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/StorXNetwork/volumebackup/private/lifecycle"
)

func TestGroupCloseOrder(t *testing.T) {
	group := lifecycle.NewGroup(zaptest.NewLogger(t))

	var closed []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		group.Add(lifecycle.Item{
			Name: name,
			Close: func() error {
				closed = append(closed, name)
				return nil
			},
		})
	}

	require.NoError(t, group.Close())
	require.Equal(t, []string{"c", "b", "a"}, closed)
}

func TestGroupRun(t *testing.T) {
	group := lifecycle.NewGroup(zaptest.NewLogger(t))

	failure := errors.New("failure")
	group.Add(lifecycle.Item{
		Name: "canceled",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	group.Add(lifecycle.Item{
		Name: "failing",
		Run: func(ctx context.Context) error {
			return failure
		},
	})

	g, ctx := errgroup.WithContext(context.Background())
	group.Run(ctx, g)
	require.ErrorIs(t, g.Wait(), failure)
}
