package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/queue"
	"github.com/ipiton/message-broker/internal/queue/redis"
)

func setupTestQueue(t *testing.T) (*redis.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	q := redis.NewFromClient(client, "broker:work", nil)

	return q, mr
}

func TestRedisQueuePushPopPreservesOrder(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer q.Close()

	ctx := context.Background()
	first := &queue.WorkItem{MessageID: "msg-1", ClientID: "client-a", Body: "hello"}
	second := &queue.WorkItem{MessageID: "msg-2", ClientID: "client-a", Body: "world"}

	require.NoError(t, q.Push(ctx, first))
	require.NoError(t, q.Push(ctx, second))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "msg-1", got.MessageID)

	got, err = q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "msg-2", got.MessageID)
}

func TestRedisQueueBlockingPopTimesOutOnEmpty(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer q.Close()

	got, err := q.BlockingPop(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisQueueHealth(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer q.Close()

	require.NoError(t, q.Health(context.Background()))

	mr.Close()
	require.Error(t, q.Health(context.Background()))
}
