package identity

import (
	"context"
	"time"
)

// Store is the persistence interface for client identities, operators,
// and reset tickets. Implementations live in identity/postgres,
// identity/sqlite, and identity/memory, mirroring the teacher's
// internal/storage dual-backend split.
//
// Implementations must enforce: at most one ACTIVE ClientIdentity per
// ClientID (InsertClient fails with *ErrClientExists otherwise); an
// operator's own id can never be passed through to a status/role
// mutation (callers, not the store, guard this per §4.2 — see Service).
type Store interface {
	InsertClient(ctx context.Context, c *ClientIdentity) error
	RevokeClient(ctx context.Context, clientID, reason string, revokedAt time.Time) error
	GetClient(ctx context.Context, clientID string) (*ClientIdentity, error)
	GetClientByFingerprint(ctx context.Context, fingerprint string) (*ClientIdentity, error)
	ListClients(ctx context.Context) ([]*ClientIdentity, error)
	ListExpiring(ctx context.Context, within time.Duration, now time.Time) ([]*ClientIdentity, error)

	InsertOperator(ctx context.Context, op *Operator) error
	GetOperatorByEmail(ctx context.Context, email string) (*Operator, error)
	GetOperator(ctx context.Context, id string) (*Operator, error)
	UpdateOperatorRole(ctx context.Context, id string, role OperatorRole) error
	UpdateOperatorStatus(ctx context.Context, id string, active bool) error
	UpdateOperatorPassword(ctx context.Context, id, passwordHash string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	InsertResetTicket(ctx context.Context, t *PasswordResetTicket) error
	GetResetTicket(ctx context.Context, token string) (*PasswordResetTicket, error)
	MarkResetTicketUsed(ctx context.Context, id string, usedAt time.Time) error
}
