package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/queue"
	qmemory "github.com/ipiton/message-broker/internal/queue/memory"
	"github.com/ipiton/message-broker/internal/registry"
	"github.com/ipiton/message-broker/internal/worker"
)

type fakeDeliverer struct {
	mu              sync.Mutex
	deliverAttempts map[string]int
	failUntil       int
	statusUpdates   []registry.Status
	notFoundIDs     map[string]bool
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		deliverAttempts: make(map[string]int),
		notFoundIDs:     make(map[string]bool),
	}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, messageID, workerID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliverAttempts[messageID]++

	if f.notFoundIDs[messageID] {
		return nil, &registry.ErrMessageNotFound{MessageID: messageID}
	}
	if f.deliverAttempts[messageID] <= f.failUntil {
		return nil, context.DeadlineExceeded
	}
	now := time.Now()
	return &now, nil
}

func (f *fakeDeliverer) UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeDeliverer) attemptsFor(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliverAttempts[messageID]
}

func newTestPool(t *testing.T, d *fakeDeliverer, q queue.Queue, cfg config.WorkerConfig) *worker.Pool {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return worker.New(cfg, q, d, logger)
}

func TestPoolDeliversOnFirstAttempt(t *testing.T) {
	q := qmemory.New()
	d := newFakeDeliverer()
	require.NoError(t, q.Push(context.Background(), &queue.WorkItem{MessageID: "msg-1", QueuedAt: time.Now()}))

	cfg := config.WorkerConfig{
		WorkerID:           "w1",
		Concurrency:        2,
		BlockingPopTimeout: 50 * time.Millisecond,
		MaxAttempts:        5,
		RetryBaseInterval:  10 * time.Millisecond,
		RetryMaxInterval:   20 * time.Millisecond,
	}
	pool := newTestPool(t, d, q, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	require.Equal(t, 1, d.attemptsFor("msg-1"))
}

func TestPoolRetriesTransientFailureThenSucceeds(t *testing.T) {
	q := qmemory.New()
	d := newFakeDeliverer()
	d.failUntil = 1
	require.NoError(t, q.Push(context.Background(), &queue.WorkItem{MessageID: "msg-2", QueuedAt: time.Now()}))

	cfg := config.WorkerConfig{
		WorkerID:           "w1",
		Concurrency:        1,
		BlockingPopTimeout: 50 * time.Millisecond,
		MaxAttempts:        5,
		RetryBaseInterval:  10 * time.Millisecond,
		RetryMaxInterval:   20 * time.Millisecond,
	}
	pool := newTestPool(t, d, q, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pool.Run(ctx)

	require.GreaterOrEqual(t, d.attemptsFor("msg-2"), 2)
}

func TestPoolDropsOrphanedItemWithoutRetry(t *testing.T) {
	q := qmemory.New()
	d := newFakeDeliverer()
	d.notFoundIDs["msg-3"] = true
	require.NoError(t, q.Push(context.Background(), &queue.WorkItem{MessageID: "msg-3", QueuedAt: time.Now()}))

	cfg := config.WorkerConfig{
		WorkerID:           "w1",
		Concurrency:        1,
		BlockingPopTimeout: 50 * time.Millisecond,
		MaxAttempts:        5,
		RetryBaseInterval:  10 * time.Millisecond,
	}
	pool := newTestPool(t, d, q, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	require.Equal(t, 1, d.attemptsFor("msg-3"))
}

func TestPoolMarksFailedAtMaxAttempts(t *testing.T) {
	q := qmemory.New()
	d := newFakeDeliverer()
	require.NoError(t, q.Push(context.Background(), &queue.WorkItem{MessageID: "msg-4", QueuedAt: time.Now(), AttemptCount: 10}))

	cfg := config.WorkerConfig{
		WorkerID:           "w1",
		Concurrency:        1,
		BlockingPopTimeout: 50 * time.Millisecond,
		MaxAttempts:        5,
	}
	pool := newTestPool(t, d, q, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	require.Equal(t, 0, d.attemptsFor("msg-4"))
	require.Contains(t, d.statusUpdates, registry.StatusFailed)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	q := qmemory.New()
	var inFlight int32
	var maxObserved int32

	d := &boundedFakeDeliverer{
		onDeliver: func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		},
	}

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Push(context.Background(), &queue.WorkItem{MessageID: string(rune('a' + i)), QueuedAt: time.Now()}))
	}

	cfg := config.WorkerConfig{
		WorkerID:           "w1",
		Concurrency:        2,
		BlockingPopTimeout: 20 * time.Millisecond,
		MaxAttempts:        5,
	}
	pool := newTestPool(t, d, q, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	require.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
}

type boundedFakeDeliverer struct {
	onDeliver func()
}

func (b *boundedFakeDeliverer) Deliver(ctx context.Context, messageID, workerID string) (*time.Time, error) {
	b.onDeliver()
	now := time.Now()
	return &now, nil
}

func (b *boundedFakeDeliverer) UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string) error {
	return nil
}
