package registry

import "fmt"

// ErrAlreadyRegistered is returned by Register when message_id already
// exists (the unique constraint gives idempotency, per §4.3).
type ErrAlreadyRegistered struct {
	MessageID string
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("registry: message %q is already registered", e.MessageID)
}

// ErrMessageNotFound is returned when a message_id is unknown. On the
// Deliver path this means the queue item is orphaned (§4.4): the
// worker must drop it without retry, not treat it as a transient failure.
type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("registry: no message %q", e.MessageID)
}

// ErrInvalidTransition is returned by Deliver when the message is
// already DELIVERED or FAILED. Callers must treat an already-DELIVERED
// record as success (at-most-one confirmed delivery under retry, §4.3).
type ErrInvalidTransition struct {
	MessageID string
	From      Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("registry: message %q cannot transition from %s to DELIVERED", e.MessageID, e.From)
}

// AlreadyDelivered reports whether this ErrInvalidTransition is the
// "already delivered" case callers should swallow as success.
func (e *ErrInvalidTransition) AlreadyDelivered() bool {
	return e.From == StatusDelivered
}

// Error type classification for metrics.
const (
	ErrorTypeConflict  = "conflict"
	ErrorTypeNotFound  = "not_found"
	ErrorTypeInvalid   = "invalid_transition"
	ErrorTypeUnknown   = "unknown"
)

// ClassifyError classifies an error for metrics labeling.
func ClassifyError(err error) string {
	switch err.(type) {
	case nil:
		return ""
	case *ErrAlreadyRegistered:
		return ErrorTypeConflict
	case *ErrMessageNotFound:
		return ErrorTypeNotFound
	case *ErrInvalidTransition:
		return ErrorTypeInvalid
	default:
		return ErrorTypeUnknown
	}
}
