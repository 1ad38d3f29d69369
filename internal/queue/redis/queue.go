// Package redis implements queue.Queue on top of Redis LPUSH/BRPOP,
// grounded on the teacher's internal/infrastructure/cache/redis.go
// (client construction, ping healthcheck, logging conventions).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/queue"
)

// Queue is a Redis-backed FIFO. Push does LPUSH onto config.KeyName;
// BlockingPop does BRPOP, so items drain in push order.
type Queue struct {
	client   *redis.Client
	key      string
	logger   *slog.Logger
	isClosed bool
}

// New builds a Queue from the given Redis connection settings and
// dials it, verifying reachability with a bounded ping.
func New(cfg config.RedisConfig, queueCfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCfg.KeyName == "" {
		return nil, fmt.Errorf("queue: key_name must not be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("queue: ping redis: %w", err)
	}

	logger.Info("connected to redis queue backend", "addr", cfg.Addr, "key", queueCfg.KeyName)

	return &Queue{client: client, key: queueCfg.KeyName, logger: logger}, nil
}

// NewFromClient wraps an existing *redis.Client, used by tests against
// miniredis where dialing through New's Options struct is unnecessary.
func NewFromClient(client *redis.Client, key string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{client: client, key: key, logger: logger}
}

func (q *Queue) Push(ctx context.Context, item *queue.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		recordOperation("push", "error")
		return fmt.Errorf("queue: marshal work item: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		recordOperation("push", "error")
		return fmt.Errorf("%w: %s", queue.ErrUnavailable, err)
	}

	recordOperation("push", "ok")
	return nil
}

func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) (*queue.WorkItem, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		recordOperation("pop", "timeout")
		return nil, nil
	}
	if err != nil {
		recordOperation("pop", "error")
		return nil, fmt.Errorf("%w: %s", queue.ErrUnavailable, err)
	}

	// BRPop returns [key, value].
	if len(result) != 2 {
		recordOperation("pop", "error")
		return nil, fmt.Errorf("queue: unexpected brpop reply shape")
	}

	var item queue.WorkItem
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		recordOperation("pop", "error")
		return nil, fmt.Errorf("queue: unmarshal work item: %w", err)
	}

	recordOperation("pop", "ok")
	return &item, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", queue.ErrUnavailable, err)
	}
	depthGauge.WithLabelValues(q.key).Set(float64(n))
	return n, nil
}

func (q *Queue) Health(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %s", queue.ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	if q.isClosed {
		return nil
	}
	q.isClosed = true
	return q.client.Close()
}
