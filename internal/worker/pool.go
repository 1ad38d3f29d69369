// Package worker implements the Delivery Worker Pool (C6): a bounded
// producer/consumer that pops from the Durable Work Queue (C4) and
// confirms delivery against the Confirmation API (C7), per spec.md
// §4.6. Grounded on the teacher's internal/business/publishing's
// background-worker lifecycle (warmup/ticker/context-cancellation
// shape) and internal/core/resilience/retry.go's backoff algorithm.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/queue"
	"github.com/ipiton/message-broker/internal/registry"
)

// Pool runs a single polling loop and up to Concurrency in-flight
// delivery tasks. When in-flight reaches the configured concurrency,
// the poller stalls on an acquire from the semaphore (spec.md §4.6).
type Pool struct {
	cfg       config.WorkerConfig
	queue     queue.Queue
	deliverer Deliverer
	logger    *slog.Logger

	sem syncSemaphore
	wg  sync.WaitGroup
}

// syncSemaphore is a buffered-channel counting semaphore.
type syncSemaphore chan struct{}

func newSemaphore(n int) syncSemaphore {
	return make(syncSemaphore, n)
}

func (s syncSemaphore) acquire() { s <- struct{}{} }
func (s syncSemaphore) release() { <-s }

// New constructs a Pool.
func New(cfg config.WorkerConfig, q queue.Queue, deliverer Deliverer, logger *slog.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		cfg:       cfg,
		queue:     q,
		deliverer: deliverer,
		logger:    logger,
		sem:       newSemaphore(concurrency),
	}
}

// Run polls and dispatches delivery tasks until ctx is cancelled. On
// cancellation, the poll loop stops accepting new items; in-flight
// deliveries are awaited up to ShutdownGrace, after which Run returns
// without waiting further — any items still PROCESSING/QUEUED in C3
// will be picked up on restart (spec.md §4.6 Cancellation & shutdown).
func (p *Pool) Run(ctx context.Context) {
	popTimeout := p.cfg.BlockingPopTimeout
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}

	p.logger.Info("worker pool starting", "worker_id", p.cfg.WorkerID, "concurrency", p.cfg.Concurrency)

	for {
		if ctx.Err() != nil {
			break
		}

		item, err := p.queue.BlockingPop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warn("blocking pop failed", "error", err)
			continue
		}
		if item == nil {
			continue
		}

		p.sem.acquire()
		activeWorkers.Inc()
		p.wg.Add(1)
		go func(item *queue.WorkItem) {
			defer func() {
				activeWorkers.Dec()
				p.sem.release()
				p.wg.Done()
			}()
			p.processItem(ctx, item)
		}(item)
	}

	p.awaitShutdown()
}

func (p *Pool) awaitShutdown() {
	grace := p.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained in-flight deliveries")
	case <-time.After(grace):
		p.logger.Warn("worker pool shutdown grace period elapsed, abandoning in-flight deliveries")
	}
}

// processItem runs the per-item algorithm of spec.md §4.6: check
// attempt budget, attempt delivery, and on transient failure retry
// with backoff, re-pushing to C4.
func (p *Pool) processItem(ctx context.Context, item *queue.WorkItem) {
	queueWaitDuration.WithLabelValues(p.cfg.WorkerID).Observe(time.Since(item.QueuedAt).Seconds())

	maxAttempts := p.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10000
	}

	if item.AttemptCount >= maxAttempts {
		if err := p.deliverer.UpdateStatus(ctx, item.MessageID, registry.StatusFailed, item.AttemptCount, "max attempts exceeded"); err != nil {
			p.logger.Error("update status to FAILED failed", "message_id", item.MessageID, "error", err)
		}
		messagesFailedTotal.WithLabelValues(p.cfg.WorkerID, "max_attempts").Inc()
		return
	}

	start := time.Now()
	_, err := p.deliverer.Deliver(ctx, item.MessageID, p.cfg.WorkerID)
	deliveryDuration.WithLabelValues(p.cfg.WorkerID).Observe(time.Since(start).Seconds())

	if err == nil {
		messagesDeliveredTotal.WithLabelValues(p.cfg.WorkerID).Inc()
		return
	}

	if isNotFound(err) {
		messagesOrphanedTotal.WithLabelValues(p.cfg.WorkerID).Inc()
		return
	}

	if invalid, ok := asInvalidTransition(err); ok && invalid.AlreadyDelivered() {
		messagesDeliveredTotal.WithLabelValues(p.cfg.WorkerID).Inc()
		return
	}

	p.retry(ctx, item, err)
}

// retry increments attempt_count, updates C3 back to QUEUED, sleeps
// with exponential backoff, and re-pushes to C4.
func (p *Pool) retry(ctx context.Context, item *queue.WorkItem, deliverErr error) {
	item.AttemptCount++

	if err := p.deliverer.UpdateStatus(ctx, item.MessageID, registry.StatusQueued, item.AttemptCount, deliverErr.Error()); err != nil {
		p.logger.Error("update status to QUEUED failed", "message_id", item.MessageID, "error", err)
	}

	base := p.cfg.RetryBaseInterval
	if base <= 0 {
		base = 30 * time.Second
	}
	maxDelay := p.cfg.RetryMaxInterval
	if maxDelay <= 0 {
		maxDelay = base
	}
	delay := base
	for i := 1; i < item.AttemptCount && delay < maxDelay; i++ {
		delay = nextDelay(delay, maxDelay)
	}

	if !waitWithContext(ctx, delay) {
		return
	}

	if err := p.queue.Push(ctx, item); err != nil {
		p.logger.Error("re-enqueue after retry failed", "message_id", item.MessageID, "error", err)
		messagesFailedTotal.WithLabelValues(p.cfg.WorkerID, "requeue_failed").Inc()
	}
}
