package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllTasks(t *testing.T) {
	p := NewPool(3, 10, nil)
	p.Start()
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Enqueue(func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(10), n.Load())
	assert.ErrorIs(t, p.Enqueue(func(context.Context) {}), ErrShutdown)
	// Second shutdown is a no-op.
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_SurvivesPanic(t *testing.T) {
	p := NewPool(1, 4, nil)
	p.Start()
	var ran atomic.Bool
	require.NoError(t, p.Enqueue(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Enqueue(func(context.Context) { ran.Store(true) }))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}

func TestPool_ShutdownDeadlineCancelsTasks(t *testing.T) {
	p := NewPool(1, 1, nil)
	p.Start()
	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Enqueue(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	select {
	case <-cancelled:
	default:
		t.Fatal("running task was not cancelled before Shutdown returned")
	}
}

func TestPool_ShutdownDrainsUnstartedQueue(t *testing.T) {
	p := NewPool(2, 5, nil)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Enqueue(func(context.Context) { n.Add(1) }))
	}
	assert.ErrorIs(t, p.Enqueue(func(context.Context) {}), ErrQueueFull)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(5), n.Load())
}
