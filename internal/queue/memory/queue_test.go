package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/queue"
	"github.com/ipiton/message-broker/internal/queue/memory"
)

func TestMemoryQueuePushPopPreservesOrder(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &queue.WorkItem{MessageID: "msg-1"}))
	require.NoError(t, q.Push(ctx, &queue.WorkItem{MessageID: "msg-2"}))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "msg-1", got.MessageID)
}

func TestMemoryQueueBlockingPopTimesOutOnEmpty(t *testing.T) {
	q := memory.New()
	got, err := q.BlockingPop(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryQueueBlockingPopWakesOnPush(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	resultCh := make(chan *queue.WorkItem, 1)
	go func() {
		item, err := q.BlockingPop(ctx, 2*time.Second)
		require.NoError(t, err)
		resultCh <- item
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, &queue.WorkItem{MessageID: "woken"}))

	select {
	case item := <-resultCh:
		require.NotNil(t, item)
		require.Equal(t, "woken", item.MessageID)
	case <-time.After(time.Second):
		t.Fatal("blocking pop did not wake on push")
	}
}

func TestMemoryQueueBlockingPopRespectsContextCancellation(t *testing.T) {
	q := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.BlockingPop(ctx, 2*time.Second)
	require.Error(t, err)
}
