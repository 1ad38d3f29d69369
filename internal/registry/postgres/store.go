// Package postgres implements registry.Store on PostgreSQL via pgx,
// the primary backend for the "standard" deployment profile. Schema
// owned by goose migrations in internal/database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipiton/message-broker/internal/registry"
)

// Store implements registry.Store over a shared pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectMessageCols = `SELECT id, message_id, client_id, hashed_sender, body_ciphertext, body_key_version, status, domain_tag, attempt_count, last_error, created_at, queued_at, delivered_at, last_attempt_at FROM messages`

func (s *Store) InsertMessage(ctx context.Context, m *registry.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, message_id, client_id, hashed_sender, body_ciphertext, body_key_version, status, domain_tag, attempt_count, last_error, created_at, queued_at, delivered_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.MessageID, m.ClientID, m.HashedSender, m.BodyCiphertext, m.BodyKeyVersion, m.Status, m.DomainTag, m.AttemptCount, m.LastError, m.CreatedAt, m.QueuedAt, m.DeliveredAt, m.LastAttemptAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &registry.ErrAlreadyRegistered{MessageID: m.MessageID}
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*registry.Message, error) {
	row := s.pool.QueryRow(ctx, selectMessageCols+` WHERE message_id = $1`, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, &registry.ErrMessageNotFound{MessageID: messageID}
	}
	return m, nil
}

func scanMessage(row pgx.Row) (*registry.Message, error) {
	var m registry.Message
	var status string
	if err := row.Scan(&m.ID, &m.MessageID, &m.ClientID, &m.HashedSender, &m.BodyCiphertext, &m.BodyKeyVersion,
		&status, &m.DomainTag, &m.AttemptCount, &m.LastError, &m.CreatedAt, &m.QueuedAt, &m.DeliveredAt, &m.LastAttemptAt); err != nil {
		return nil, err
	}
	m.Status = registry.Status(status)
	return &m, nil
}

func (s *Store) TransitionToDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM messages WHERE message_id = $1`, messageID).Scan(&status); err != nil {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	if registry.Status(status) == registry.StatusDelivered || registry.Status(status) == registry.StatusFailed {
		return &registry.ErrInvalidTransition{MessageID: messageID, From: registry.Status(status)}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = 'DELIVERED', delivered_at = $1 WHERE message_id = $2 AND status IN ('QUEUED', 'PROCESSING')`,
		deliveredAt, messageID)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string, lastAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $1, attempt_count = $2, last_error = $3, last_attempt_at = $4 WHERE message_id = $5`,
		status, attemptCount, lastError, lastAttemptAt, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, filter registry.ListFilter) ([]*registry.Message, error) {
	query := selectMessageCols + ` WHERE TRUE`
	var args []any
	argN := 1
	if filter.ClientID != nil {
		query += placeholder(&argN, " AND client_id = ")
		args = append(args, *filter.ClientID)
	}
	if filter.Status != nil {
		query += placeholder(&argN, " AND status = ")
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += placeholder(&argN, " LIMIT ")
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += placeholder(&argN, " OFFSET ")
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func placeholder(argN *int, prefix string) string {
	s := prefix + "$" + itoa(*argN)
	*argN++
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (s *Store) Stats(ctx context.Context, clientID *string, now time.Time) (*registry.Stats, error) {
	stats := &registry.Stats{ByStatus: make(map[registry.Status]int)}

	where, args := "TRUE", []any{}
	if clientID != nil {
		where = "client_id = $1"
		args = append(args, *clientID)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM messages WHERE `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[registry.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hourArgs := append(append([]any{}, args...), now.Add(-time.Hour))
	_ = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where+` AND created_at >= $`+itoa(len(hourArgs)), hourArgs...).Scan(&stats.LastHourCount)

	dayArgs := append(append([]any{}, args...), now.Add(-24*time.Hour))
	_ = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where+` AND created_at >= $`+itoa(len(dayArgs)), dayArgs...).Scan(&stats.LastDayCount)

	return stats, nil
}

func (s *Store) PurgeDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE status = 'DELIVERED' AND delivered_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) AppendAudit(ctx context.Context, entry *registry.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, event_type, operator_id, client_id, source_addr, severity, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.EventType, entry.OperatorID, entry.ClientID, entry.SourceAddr, entry.Severity, detailsJSON, entry.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]*registry.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, operator_id, client_id, source_addr, severity, details, created_at FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.AuditEntry
	for rows.Next() {
		var e registry.AuditEntry
		var detailsJSON []byte
		var severity string
		if err := rows.Scan(&e.ID, &e.EventType, &e.OperatorID, &e.ClientID, &e.SourceAddr, &severity, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = registry.Severity(severity)
		_ = json.Unmarshal(detailsJSON, &e.Details)
		out = append(out, &e)
	}
	return out, rows.Err()
}
