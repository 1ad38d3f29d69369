// Package sqlite implements identity.Store on an embedded SQLite
// database (the "lite" deployment profile and test backend), grounded
// on the teacher's internal/storage/sqlite/sqlite_storage.go: WAL
// mode, foreign keys on, secure file permissions, RWMutex-guarded
// *sql.DB.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ipiton/message-broker/internal/identity"
)

// Store implements identity.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates (or opens) the SQLite file at path with WAL mode and
// foreign keys enabled, and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("identity/sqlite: create parent dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS clients (
	client_id         TEXT PRIMARY KEY,
	cert_fingerprint  TEXT NOT NULL UNIQUE,
	domain_tag        TEXT NOT NULL,
	status            TEXT NOT NULL,
	issued_at         DATETIME NOT NULL,
	expires_at        DATETIME NOT NULL,
	revoked_at        DATETIME,
	revocation_reason TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS operators (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	password_hash   TEXT NOT NULL,
	role            TEXT NOT NULL,
	bound_client_id TEXT,
	active          BOOLEAN NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL,
	last_login_at   DATETIME
);
CREATE TABLE IF NOT EXISTS password_reset_tickets (
	id          TEXT PRIMARY KEY,
	operator_id TEXT NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	expires_at  DATETIME NOT NULL,
	used_at     DATETIME,
	created_at  DATETIME NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) InsertClient(ctx context.Context, c *identity.ClientIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var activeCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clients WHERE client_id = ? AND status = 'ACTIVE'`, c.ClientID,
	).Scan(&activeCount)
	if err != nil {
		return err
	}
	if activeCount > 0 {
		return &identity.ErrClientExists{ClientID: c.ClientID}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.CertFingerprint, c.DomainTag, c.Status, c.IssuedAt, c.ExpiresAt, c.RevokedAt, c.RevocationReason, c.CreatedAt)
	return err
}

func (s *Store) RevokeClient(ctx context.Context, clientID, reason string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET status = 'REVOKED', revoked_at = ?, revocation_reason = ? WHERE client_id = ?`,
		revokedAt, reason, clientID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &identity.ErrClientNotFound{ClientID: clientID}
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE client_id = ?`, clientID)
	return scanClient(row)
}

func (s *Store) GetClientByFingerprint(ctx context.Context, fingerprint string) (*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE cert_fingerprint = ?`, fingerprint)
	c, err := scanClient(row)
	if err != nil {
		return nil, &identity.ErrClientNotFound{Fingerprint: fingerprint}
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.ClientIdentity
	for rows.Next() {
		c, err := scanClientRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiring(ctx context.Context, within time.Duration, now time.Time) ([]*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(within)
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, cert_fingerprint, domain_tag, status, issued_at, expires_at, revoked_at, revocation_reason, created_at
		 FROM clients WHERE status = 'ACTIVE' AND expires_at < ? ORDER BY expires_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.ClientIdentity
	for rows.Next() {
		c, err := scanClientRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row *sql.Row) (*identity.ClientIdentity, error) {
	return scan(row)
}

func scanClientRows(rows *sql.Rows) (*identity.ClientIdentity, error) {
	return scan(rows)
}

func scan(r rowScanner) (*identity.ClientIdentity, error) {
	var c identity.ClientIdentity
	var status string
	if err := r.Scan(&c.ClientID, &c.CertFingerprint, &c.DomainTag, &status,
		&c.IssuedAt, &c.ExpiresAt, &c.RevokedAt, &c.RevocationReason, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &identity.ErrClientNotFound{}
		}
		return nil, err
	}
	c.Status = identity.ClientStatus(status)
	return &c, nil
}

func (s *Store) InsertOperator(ctx context.Context, op *identity.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, email, password_hash, role, bound_client_id, active, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Email, op.PasswordHash, op.Role, op.BoundClientID, op.Active, op.CreatedAt, op.LastLoginAt)
	return err
}

func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (*identity.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, bound_client_id, active, created_at, last_login_at
		 FROM operators WHERE email = ?`, email)
	op, err := scanOperator(row)
	if err != nil {
		return nil, &identity.ErrOperatorNotFound{Email: email}
	}
	return op, nil
}

func (s *Store) GetOperator(ctx context.Context, id string) (*identity.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, bound_client_id, active, created_at, last_login_at
		 FROM operators WHERE id = ?`, id)
	op, err := scanOperator(row)
	if err != nil {
		return nil, &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return op, nil
}

func scanOperator(row *sql.Row) (*identity.Operator, error) {
	var op identity.Operator
	var role string
	if err := row.Scan(&op.ID, &op.Email, &op.PasswordHash, &role, &op.BoundClientID, &op.Active, &op.CreatedAt, &op.LastLoginAt); err != nil {
		return nil, err
	}
	op.Role = identity.OperatorRole(role)
	return &op, nil
}

func (s *Store) UpdateOperatorRole(ctx context.Context, id string, role identity.OperatorRole) error {
	return s.updateOperatorField(ctx, id, "role", string(role))
}

func (s *Store) UpdateOperatorStatus(ctx context.Context, id string, active bool) error {
	return s.updateOperatorField(ctx, id, "active", active)
}

func (s *Store) UpdateOperatorPassword(ctx context.Context, id, passwordHash string) error {
	return s.updateOperatorField(ctx, id, "password_hash", passwordHash)
}

func (s *Store) updateOperatorField(ctx context.Context, id, column string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE operators SET %s = ? WHERE id = ?`, column), value, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateOperatorField(ctx, id, "last_login_at", at)
}

func (s *Store) InsertResetTicket(ctx context.Context, t *identity.PasswordResetTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_tickets (id, operator_id, token, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.OperatorID, t.Token, t.ExpiresAt, t.UsedAt, t.CreatedAt)
	return err
}

func (s *Store) GetResetTicket(ctx context.Context, token string) (*identity.PasswordResetTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t identity.PasswordResetTicket
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operator_id, token, expires_at, used_at, created_at FROM password_reset_tickets WHERE token = ?`, token,
	).Scan(&t.ID, &t.OperatorID, &t.Token, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, &identity.ErrResetTicketInvalid{}
	}
	return &t, nil
}

func (s *Store) MarkResetTicketUsed(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE password_reset_tickets SET used_at = ? WHERE id = ?`, usedAt, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &identity.ErrResetTicketInvalid{}
	}
	return nil
}
