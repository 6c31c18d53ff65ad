package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan Job[string], 1)
	q := NewQueue("test", func(ctx context.Context, job Job[string]) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("database unavailable")
		}
		done <- job
		return nil
	}, QueueConfig[string]{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[string]{ID: "sweep-1", Payload: "2024-07-01"}))

	select {
	case job := <-done:
		assert.Equal(t, "2024-07-01", job.Payload)
		assert.Equal(t, 2, job.Attempt)
		assert.False(t, job.Enqueued.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	gaveUp := make(chan Job[int], 1)
	q := NewQueue("test", func(ctx context.Context, job Job[int]) error {
		return errors.New("still failing")
	}, QueueConfig[int]{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		OnGiveUp:   func(job Job[int], err error) { gaveUp <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[int]{ID: "j-1", Payload: 7}))

	select {
	case job := <-gaveUp:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("queue never gave up")
	}
}

func TestQueueRejectsWhenStoppedOrFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job[int]) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig[int]{BufferSize: 1})

	assert.Error(t, q.Enqueue(Job[int]{ID: "early"}))

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job[int]{ID: "a"}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job[int]{ID: "b"}))
	assert.Error(t, q.Enqueue(Job[int]{ID: "c"}), "buffer full")

	close(block)
	q.Stop()
	assert.Error(t, q.Enqueue(Job[int]{ID: "late"}))
}
