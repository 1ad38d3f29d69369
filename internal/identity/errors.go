package identity

import "fmt"

// ErrClientExists is returned by RegisterClient when an ACTIVE record
// already exists for the given client id.
type ErrClientExists struct {
	ClientID string
}

func (e *ErrClientExists) Error() string {
	return fmt.Sprintf("identity: client %q already has an active identity", e.ClientID)
}

// ErrAlreadyRevoked is returned by RevokeClient on a record that is
// already REVOKED. Revocation is terminal and never reverted.
type ErrAlreadyRevoked struct {
	ClientID string
}

func (e *ErrAlreadyRevoked) Error() string {
	return fmt.Sprintf("identity: client %q is already revoked", e.ClientID)
}

// ErrClientNotFound is returned when a client id or certificate
// fingerprint does not resolve to any record.
type ErrClientNotFound struct {
	ClientID    string
	Fingerprint string
}

func (e *ErrClientNotFound) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("identity: no client with certificate fingerprint %q", e.Fingerprint)
	}
	return fmt.Sprintf("identity: no client %q", e.ClientID)
}

// ErrAuthFailed is returned by Authenticate on any failure mode
// (unknown email, wrong password, inactive account). Callers must not
// branch on a more specific reason: the failure is observably uniform
// to defend against user enumeration (§4.2).
type ErrAuthFailed struct{}

func (e *ErrAuthFailed) Error() string {
	return "identity: authentication failed"
}

// ErrOperatorNotFound is returned when an operator id or email does
// not resolve to any record.
type ErrOperatorNotFound struct {
	OperatorID string
	Email      string
}

func (e *ErrOperatorNotFound) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("identity: no operator with email %q", e.Email)
	}
	return fmt.Sprintf("identity: no operator %q", e.OperatorID)
}

// ErrSelfStatusChange is returned when an operator attempts to toggle
// their own active flag or role, which §3/§4.2 forbid.
type ErrSelfStatusChange struct {
	OperatorID string
}

func (e *ErrSelfStatusChange) Error() string {
	return fmt.Sprintf("identity: operator %q cannot change their own status", e.OperatorID)
}

// ErrResetTicketInvalid is returned by RedeemResetTicket for an
// unknown, expired, or already-used token.
type ErrResetTicketInvalid struct{}

func (e *ErrResetTicketInvalid) Error() string {
	return "identity: reset ticket is invalid or expired"
}

// Error type classification for metrics, mirrors internal/storage/errors.go.
const (
	ErrorTypeConflict    = "conflict"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeAuth        = "auth"
	ErrorTypeForbidden   = "forbidden"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyError classifies an error for metrics labeling.
func ClassifyError(err error) string {
	switch err.(type) {
	case nil:
		return ""
	case *ErrClientExists:
		return ErrorTypeConflict
	case *ErrAlreadyRevoked:
		return ErrorTypeConflict
	case *ErrClientNotFound, *ErrOperatorNotFound:
		return ErrorTypeNotFound
	case *ErrAuthFailed, *ErrResetTicketInvalid:
		return ErrorTypeAuth
	case *ErrSelfStatusChange:
		return ErrorTypeForbidden
	default:
		return ErrorTypeUnknown
	}
}
