package registry

import (
	"context"
	"time"
)

// Store is the persistence interface for messages and audit entries.
// Implementations live in registry/postgres, registry/sqlite, and
// registry/memory.
type Store interface {
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	// TransitionToDelivered performs the transactional (QUEUED|PROCESSING)
	// -> DELIVERED move and sets DeliveredAt; implementations must do
	// this atomically (a single UPDATE ... WHERE status IN (...) is
	// sufficient and avoids a separate SELECT-then-UPDATE race).
	TransitionToDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error
	UpdateStatus(ctx context.Context, messageID string, status Status, attemptCount int, lastError string, lastAttemptAt time.Time) error
	ListMessages(ctx context.Context, filter ListFilter) ([]*Message, error)
	Stats(ctx context.Context, clientID *string, now time.Time) (*Stats, error)

	// PurgeDeliveredBefore deletes DELIVERED messages whose DeliveredAt
	// predates the cutoff, for the admin data-retention operation
	// (spec.md §6). Returns the number of rows removed.
	PurgeDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]*AuditEntry, error)
}
