package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ipiton/message-broker/internal/crypto"
)

// Service implements Register/Deliver/UpdateStatus and the read-side
// query operations (spec.md §4.3), on top of a Store and the shared
// Crypto Service.
type Service struct {
	store   Store
	crypto  *crypto.Manager
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, cm *crypto.Manager, logger *slog.Logger) *Service {
	return &Service{store: store, crypto: cm, logger: logger}
}

// RegisterInput carries everything Register needs from a caller.
type RegisterInput struct {
	MessageID     string
	ClientID      string
	SenderNumber  string
	PlaintextBody string
	QueuedAt      time.Time
	DomainTag     string
}

// RegisterResult is returned on success.
type RegisterResult struct {
	ID           string
	RegisteredAt time.Time
}

// Register hashes the sender number and encrypts the body via the
// Crypto Service, then inserts a QUEUED row with attempt_count=0 and
// appends a message_registered audit entry. The unique constraint on
// MessageID gives idempotency: a repeat fails with *ErrAlreadyRegistered
// without side effects.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("register").Observe(time.Since(start).Seconds()) }()

	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}

	hashedSender := s.crypto.HashPhone(in.SenderNumber)
	ciphertext, keyVersion, err := s.crypto.Encrypt(in.PlaintextBody)
	if err != nil {
		recordOperation("register", "crypto_error")
		return nil, err
	}

	now := time.Now()
	m := &Message{
		MessageID:      in.MessageID,
		ClientID:       in.ClientID,
		HashedSender:   hashedSender,
		BodyCiphertext: ciphertext,
		BodyKeyVersion: keyVersion,
		Status:         StatusQueued,
		DomainTag:      in.DomainTag,
		AttemptCount:   0,
		CreatedAt:      now,
		QueuedAt:       in.QueuedAt,
	}

	if err := s.store.InsertMessage(ctx, m); err != nil {
		recordOperation("register", ClassifyError(err))
		return nil, err
	}

	s.audit(ctx, "message_registered", nil, &in.ClientID, SeverityInfo, map[string]any{
		"message_id": in.MessageID,
	})

	recordOperation("register", "success")
	return &RegisterResult{ID: m.ID, RegisteredAt: now}, nil
}

// Deliver transitions a message to DELIVERED. Per §4.3, a caller must
// treat *ErrInvalidTransition where AlreadyDelivered() is true as
// success, since retries can race with an earlier successful Deliver.
func (s *Service) Deliver(ctx context.Context, messageID, workerID string) (*time.Time, error) {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("deliver").Observe(time.Since(start).Seconds()) }()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		recordOperation("deliver", "not_found")
		return nil, &ErrMessageNotFound{MessageID: messageID}
	}

	if msg.Status == StatusDelivered || msg.Status == StatusFailed {
		recordOperation("deliver", "invalid_transition")
		return msg.DeliveredAt, &ErrInvalidTransition{MessageID: messageID, From: msg.Status}
	}

	deliveredAt := time.Now()
	if err := s.store.TransitionToDelivered(ctx, messageID, deliveredAt); err != nil {
		recordOperation("deliver", "error")
		return nil, err
	}

	s.audit(ctx, "message_delivered", nil, &msg.ClientID, SeverityInfo, map[string]any{
		"message_id": messageID,
		"worker_id":  workerID,
	})

	recordOperation("deliver", "success")
	return &deliveredAt, nil
}

// UpdateStatus sets status and attempt count (attempt count must be
// monotonically non-decreasing, enforced by the caller's retry loop,
// not re-checked here since the worker is the only writer of this path).
func (s *Service) UpdateStatus(ctx context.Context, messageID string, status Status, attemptCount int, lastError string) error {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("update_status").Observe(time.Since(start).Seconds()) }()

	if err := s.store.UpdateStatus(ctx, messageID, status, attemptCount, lastError, time.Now()); err != nil {
		recordOperation("update_status", ClassifyError(err))
		return err
	}

	if status == StatusFailed {
		s.audit(ctx, "message_failed", nil, nil, SeverityWarning, map[string]any{
			"message_id":    messageID,
			"attempt_count": attemptCount,
			"error":         lastError,
		})
	}

	recordOperation("update_status", "success")
	return nil
}

// ListMessages returns a role-scoped, paginated listing (§4.3).
func (s *Service) ListMessages(ctx context.Context, filter ListFilter) ([]*Message, error) {
	return s.store.ListMessages(ctx, filter)
}

// GetMessage resolves a single message by its public message id, for
// the ADMIN message-detail/decrypt view (§4.7).
func (s *Service) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	return s.store.GetMessage(ctx, messageID)
}

// Stats computes the aggregate dashboard view, optionally scoped to a client.
func (s *Service) Stats(ctx context.Context, clientID *string) (*Stats, error) {
	return s.store.Stats(ctx, clientID, time.Now())
}

// PurgeDelivered removes DELIVERED messages older than olderThan, the
// admin data-retention operation named in spec.md §6. It audits the
// purge with the number of rows removed.
func (s *Service) PurgeDelivered(ctx context.Context, operatorID string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	purged, err := s.store.PurgeDeliveredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	opID := operatorID
	s.audit(ctx, "data_retention_purge", &opID, nil, SeverityInfo, map[string]any{"purged": purged, "cutoff": cutoff})
	return purged, nil
}

// Audit appends a security-relevant event to the ledger. Exported so
// the gateway can log events (auth failures, dev-bypass use) through
// the same path Register/Deliver use.
func (s *Service) Audit(ctx context.Context, eventType string, operatorID, clientID *string, severity Severity, details map[string]any) {
	s.audit(ctx, eventType, operatorID, clientID, severity, details)
}

func (s *Service) audit(ctx context.Context, eventType string, operatorID, clientID *string, severity Severity, details map[string]any) {
	entry := &AuditEntry{
		EventType:  eventType,
		OperatorID: operatorID,
		ClientID:   clientID,
		Severity:   severity,
		Details:    details,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry", "event_type", eventType, "error", err)
	}
}
