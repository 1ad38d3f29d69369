// Package identity implements the Identity Store (C2): client
// certificate identities, operator accounts, and password reset
// tickets. Grounded on the teacher's internal/storage dual-backend
// split (Postgres primary, SQLite for the lite profile and tests).
package identity

import "time"

// ClientStatus is the lifecycle state of a ClientIdentity.
type ClientStatus string

const (
	ClientActive  ClientStatus = "ACTIVE"
	ClientRevoked ClientStatus = "REVOKED"
	ClientExpired ClientStatus = "EXPIRED"
)

// ClientIdentity is a client machine authorized to submit messages,
// identified by its mTLS client certificate. Exactly one ACTIVE record
// may exist per ClientID at any time (enforced by the store).
type ClientIdentity struct {
	ClientID           string
	CertFingerprint    string
	DomainTag          string
	Status             ClientStatus
	IssuedAt           time.Time
	ExpiresAt          time.Time
	RevokedAt          *time.Time
	RevocationReason   string
	CreatedAt          time.Time
}

// EffectiveStatus computes EXPIRED lazily when now has passed ExpiresAt
// and the record has not already been revoked, per spec.md §3.
func (c *ClientIdentity) EffectiveStatus(now time.Time) ClientStatus {
	if c.Status == ClientRevoked {
		return ClientRevoked
	}
	if now.After(c.ExpiresAt) || now.Equal(c.ExpiresAt) {
		return ClientExpired
	}
	return c.Status
}

// OperatorRole is the RBAC role of an operator console account.
type OperatorRole string

const (
	RoleUser        OperatorRole = "USER"
	RoleUserManager OperatorRole = "USER_MANAGER"
	RoleAdmin       OperatorRole = "ADMIN"
)

// Operator is a portal/console account (§4.7).
type Operator struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          OperatorRole
	BoundClientID *string
	Active        bool
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

// PasswordResetTicket is a single-use, time-limited reset token.
type PasswordResetTicket struct {
	ID         string
	OperatorID string
	Token      string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// Valid reports whether the ticket can still be redeemed.
func (t *PasswordResetTicket) Valid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
