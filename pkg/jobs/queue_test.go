package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue("test", func(ctx context.Context, job Job[string]) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Payload)
		assert.NotEmpty(t, job.ID)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8})

	q.Start(context.Background())
	require.NoError(t, q.TryEnqueue("a"))
	require.NoError(t, q.TryEnqueue("b"))
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestQueueRejectsBeforeStartAndAfterStop(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job[int]) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.TryEnqueue(1), ErrNotStarted)

	q.Start(context.Background())
	q.Stop()
	assert.ErrorIs(t, q.TryEnqueue(1), ErrStopped)
}

func TestQueueReportsFullBuffer(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job[int]) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	require.NoError(t, q.TryEnqueue(1))
	var full bool
	for i := 0; i < 3; i++ {
		if err := q.TryEnqueue(i); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)

	close(release)
	q.Stop()
}

func TestQueueDrainsOnStopWithLiveContext(t *testing.T) {
	var handled atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue("test", func(jobCtx context.Context, job Job[int]) error {
		time.Sleep(time.Millisecond)
		assert.NoError(t, jobCtx.Err())
		handled.Add(1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 16})
	q.Start(ctx)
	cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.TryEnqueue(i))
	}
	q.Stop()
	assert.Equal(t, int32(10), handled.Load())
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts atomic.Int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job[int]) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	require.NoError(t, q.TryEnqueue(7))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	q.Stop()
	assert.Equal(t, int32(3), attempts.Load())
}
