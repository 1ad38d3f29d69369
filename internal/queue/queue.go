package queue

import (
	"context"
	"time"
)

// Queue is the durable FIFO work queue the gateway (C5) pushes to and
// workers (C6) pop from. Implementations must preserve push order
// (§4.4): BlockingPop always returns the oldest pending item first.
type Queue interface {
	// Push enqueues item at the tail of the queue.
	Push(ctx context.Context, item *WorkItem) error

	// BlockingPop waits up to timeout for an item at the head of the
	// queue. It returns (nil, nil) on timeout — a timeout is not an
	// error condition, per spec.md §4.4.
	BlockingPop(ctx context.Context, timeout time.Duration) (*WorkItem, error)

	// Length reports the current queue depth, for health/metrics.
	Length(ctx context.Context) (int64, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
}
