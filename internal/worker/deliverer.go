package worker

import (
	"context"
	"time"

	"github.com/ipiton/message-broker/internal/registry"
)

// Deliverer is the Confirmation API (C7) surface the worker needs.
// Both *registry.Service (in-process deployment) and
// *registryclient.Client (networked deployment) satisfy it.
type Deliverer interface {
	Deliver(ctx context.Context, messageID, workerID string) (*time.Time, error)
	UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string) error
}
