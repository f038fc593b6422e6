package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/lumentix-tickets/internal/dispatch"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

func TestDispatchRunsTasks(t *testing.T) {
	d := dispatch.New(4, 16, time.Second, observability.NopLogger())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		ok := d.Dispatch(context.Background(), "count", func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
		require.True(t, ok)
	}
	require.NoError(t, d.Close(context.Background()))
	assert.EqualValues(t, 10, n.Load())
}

func TestDispatchSurvivesFailuresAndPanics(t *testing.T) {
	d := dispatch.New(1, 4, time.Second, observability.NopLogger())

	var ran atomic.Bool
	d.Dispatch(context.Background(), "fail", func(ctx context.Context) error { return errors.New("smtp down") })
	d.Dispatch(context.Background(), "panic", func(ctx context.Context) error { panic("boom") })
	d.Dispatch(context.Background(), "after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, d.Close(context.Background()))
	assert.True(t, ran.Load())
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	d := dispatch.New(1, 4, time.Second, observability.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var taskErr atomic.Value
	d.Dispatch(ctx, "detached", func(ctx context.Context) error {
		taskErr.Store(ctx.Err() == nil)
		return nil
	})
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, true, taskErr.Load())
}

func TestDispatchDropsWhenFull(t *testing.T) {
	d := dispatch.New(1, 1, time.Second, observability.NopLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	d.Dispatch(context.Background(), "block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	assert.True(t, d.Dispatch(context.Background(), "queued", func(ctx context.Context) error { return nil }))
	assert.False(t, d.Dispatch(context.Background(), "dropped", func(ctx context.Context) error { return nil }))

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Dispatch(context.Background(), "late", func(ctx context.Context) error { return nil }))
}

func TestDispatchAppliesTimeout(t *testing.T) {
	d := dispatch.New(1, 1, 10*time.Millisecond, observability.NopLogger())

	var deadline atomic.Bool
	d.Dispatch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	require.NoError(t, d.Close(context.Background()))
	assert.True(t, deadline.Load())
}

func TestDispatchZeroTimeoutFallsBackToDefault(t *testing.T) {
	d := dispatch.New(1, 1, 0, observability.NopLogger())

	var live atomic.Bool
	d.Dispatch(context.Background(), "audit", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		live.Store(ctx.Err() == nil && hasDeadline)
		return nil
	})
	require.NoError(t, d.Close(context.Background()))
	assert.True(t, live.Load())
}
