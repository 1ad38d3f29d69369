// Package postgres implements identity.Store on PostgreSQL via pgx,
// the primary backend for the "standard" deployment profile. Schema is
// owned by the goose migrations in internal/database, not by this
// package (contrast identity/sqlite, which is self-contained for the
// lite profile). Grounded on the teacher's pgx usage pattern
// (internal/infrastructure/postgres_adapter.go-style pooled access).
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipiton/message-broker/internal/identity"
)

// Store implements identity.Store over a shared pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. The pool's lifecycle (Close) is
// owned by the caller, since other stores in the same process (such as
// the registry store) share it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertClient(ctx context.Context, c *identity.ClientIdentity) error {
	var activeCount int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM clients WHERE client_id = $1 AND status = 'ACTIVE'`, c.ClientID,
	).Scan(&activeCount); err != nil {
		return err
	}
	if activeCount > 0 {
		return &identity.ErrClientExists{ClientID: c.ClientID}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ClientID, c.CertFingerprint, c.DomainTag, c.Status, c.IssuedAt, c.ExpiresAt, c.RevokedAt, c.RevocationReason, c.CreatedAt)
	return err
}

func (s *Store) RevokeClient(ctx context.Context, clientID, reason string, revokedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clients SET status = 'REVOKED', revoked_at = $1, revocation_reason = $2 WHERE client_id = $3`,
		revokedAt, reason, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrClientNotFound{ClientID: clientID}
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*identity.ClientIdentity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE client_id = $1`, clientID)
	c, err := scanClient(row)
	if err != nil {
		return nil, &identity.ErrClientNotFound{ClientID: clientID}
	}
	return c, nil
}

func (s *Store) GetClientByFingerprint(ctx context.Context, fingerprint string) (*identity.ClientIdentity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE cert_fingerprint = $1`, fingerprint)
	c, err := scanClient(row)
	if err != nil {
		return nil, &identity.ErrClientNotFound{Fingerprint: fingerprint}
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]*identity.ClientIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

func (s *Store) ListExpiring(ctx context.Context, within time.Duration, now time.Time) ([]*identity.ClientIdentity, error) {
	cutoff := now.Add(within)
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE status = 'ACTIVE' AND expires_at < $1 ORDER BY expires_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

func scanClient(row pgx.Row) (*identity.ClientIdentity, error) {
	var c identity.ClientIdentity
	var status string
	if err := row.Scan(&c.ClientID, &c.CertFingerprint, &c.DomainTag, &status,
		&c.IssuedAt, &c.ExpiresAt, &c.RevokedAt, &c.RevocationReason, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = identity.ClientStatus(status)
	return &c, nil
}

func collectClients(rows pgx.Rows) ([]*identity.ClientIdentity, error) {
	var out []*identity.ClientIdentity
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertOperator(ctx context.Context, op *identity.Operator) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operators (id, email, password_hash, role, bound_client_id, active, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, op.Email, op.PasswordHash, op.Role, op.BoundClientID, op.Active, op.CreatedAt, op.LastLoginAt)
	return err
}

func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (*identity.Operator, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role, bound_client_id, active, created_at, last_login_at
		 FROM operators WHERE email = $1`, email)
	op, err := scanOperator(row)
	if err != nil {
		return nil, &identity.ErrOperatorNotFound{Email: email}
	}
	return op, nil
}

func (s *Store) GetOperator(ctx context.Context, id string) (*identity.Operator, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role, bound_client_id, active, created_at, last_login_at
		 FROM operators WHERE id = $1`, id)
	op, err := scanOperator(row)
	if err != nil {
		return nil, &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return op, nil
}

func scanOperator(row pgx.Row) (*identity.Operator, error) {
	var op identity.Operator
	var role string
	if err := row.Scan(&op.ID, &op.Email, &op.PasswordHash, &role, &op.BoundClientID, &op.Active, &op.CreatedAt, &op.LastLoginAt); err != nil {
		return nil, err
	}
	op.Role = identity.OperatorRole(role)
	return &op, nil
}

func (s *Store) UpdateOperatorRole(ctx context.Context, id string, role identity.OperatorRole) error {
	tag, err := s.pool.Exec(ctx, `UPDATE operators SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return nil
}

func (s *Store) UpdateOperatorStatus(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE operators SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return nil
}

func (s *Store) UpdateOperatorPassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE operators SET password_hash = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE operators SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return nil
}

func (s *Store) InsertResetTicket(ctx context.Context, t *identity.PasswordResetTicket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO password_reset_tickets (id, operator_id, token, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.OperatorID, t.Token, t.ExpiresAt, t.UsedAt, t.CreatedAt)
	return err
}

func (s *Store) GetResetTicket(ctx context.Context, token string) (*identity.PasswordResetTicket, error) {
	var t identity.PasswordResetTicket
	err := s.pool.QueryRow(ctx,
		`SELECT id, operator_id, token, expires_at, used_at, created_at FROM password_reset_tickets WHERE token = $1`, token,
	).Scan(&t.ID, &t.OperatorID, &t.Token, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &identity.ErrResetTicketInvalid{}
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) MarkResetTicketUsed(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE password_reset_tickets SET used_at = $1 WHERE id = $2`, usedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &identity.ErrResetTicketInvalid{}
	}
	return nil
}
