package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2, QueueSize: 8, Logger: testLogger()})

	var ran atomic.Int32
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := p.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(5), ran.Load())
	for _, id := range ids {
		task, ok := p.Get(id)
		require.True(t, ok)
		assert.Equal(t, TaskComplete, task.Status)
		assert.False(t, task.DoneAt.IsZero())
	}
	assert.Empty(t, p.ListActive())
}

func TestPool_FailedAndPanickingTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, Logger: testLogger()})

	failID, err := p.Submit("fail", func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	panicID, err := p.Submit("panic", func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	okID, err := p.Submit("after", func(context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, p.Close(context.Background()))

	task, _ := p.Get(failID)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, "boom", task.Error)

	task, _ = p.Get(panicID)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Contains(t, task.Error, "kaboom")

	task, _ = p.Get(okID)
	assert.Equal(t, TaskComplete, task.Status, "a panic must not kill the worker")
}

func TestPool_FullQueue(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1, Logger: testLogger()})
	release := make(chan struct{})
	started := make(chan struct{})

	_, err := p.Submit("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	_, err = p.Submit("queued", func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = p.Submit("overflow", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Len(t, p.ListActive(), 2)

	close(release)
	require.NoError(t, p.Close(context.Background()))
}

func TestPool_ClosedRejectsSubmit(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, Logger: testLogger()})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()), "close is idempotent")

	_, err := p.Submit("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseDrainsInFlight(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1, Logger: testLogger()})
	var done atomic.Bool
	_, err := p.Submit("slow", func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, p.Close(context.Background()))
	assert.True(t, done.Load())
}

func TestPool_CloseHonoursDeadline(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, Logger: testLogger()})
	release := make(chan struct{})
	defer close(release)
	_, err := p.Submit("stuck", func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_TaskContextIsNeverCancelled(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, Logger: testLogger()})
	var ctxErr atomic.Value
	_, err := p.Submit("ctx", func(ctx context.Context) error {
		ctxErr.Store(ctx.Err() == nil)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, true, ctxErr.Load())
}

func TestPool_Clean(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, Logger: testLogger()})
	id, err := p.Submit("done", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	assert.Zero(t, p.Clean(time.Hour))
	assert.Equal(t, 1, p.Clean(0))
	_, ok := p.Get(id)
	assert.False(t, ok)
}
