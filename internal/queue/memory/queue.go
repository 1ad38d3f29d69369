// Package memory implements queue.Queue with an in-process list,
// for unit tests and local development without a Redis dependency.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ipiton/message-broker/internal/queue"
)

// Queue is a FIFO backed by a doubly-linked list guarded by a mutex,
// with a condition variable to wake blocked poppers.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *list.List
}

// New returns an empty in-memory queue.
func New() *Queue {
	q := &Queue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Push(ctx context.Context, item *queue.WorkItem) error {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) (*queue.WorkItem, error) {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	defer close(done)

	// Wake the condvar if ctx is cancelled or the timeout elapses,
	// since sync.Cond has no context-aware wait.
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		case <-done:
			return
		}
		q.cond.Broadcast()
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		q.cond.Wait()
	}

	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(*queue.WorkItem), nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.items.Len()), nil
}

func (q *Queue) Health(ctx context.Context) error {
	return nil
}
