package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](1)
	result := make(chan string, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), "https://uni.edu/"))
	select {
	case got := <-result:
		assert.Equal(t, "https://uni.edu/", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), 1))
	err = q.Enqueue(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueDrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](3)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1))
	require.NoError(t, q.Enqueue(ctx, 2))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, 3), ErrClosed)
	assert.Equal(t, 2, q.Len())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{first, second})

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer not released by Close")
	}
}
