package queue

import "errors"

// ErrUnavailable indicates the queue backend could not be reached.
var ErrUnavailable = errors.New("queue: backend unavailable")

// ErrEmpty is not returned by the memory or Redis implementations: a
// blocking pop that times out yields a nil item and a nil error — see
// Queue.BlockingPop.
var ErrEmpty = errors.New("queue: empty")
