// Package sqlite implements registry.Store on an embedded SQLite
// database, for the "lite" deployment profile and tests. Grounded on
// the teacher's internal/storage/sqlite package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/google/uuid"

	"github.com/ipiton/message-broker/internal/registry"
)

// Store implements registry.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates (or opens) the SQLite file at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("registry/sqlite: create parent dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlite: open: %w", err)
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
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	message_id        TEXT NOT NULL UNIQUE,
	client_id         TEXT NOT NULL,
	hashed_sender     TEXT NOT NULL,
	body_ciphertext   TEXT NOT NULL,
	body_key_version  INTEGER NOT NULL,
	status            TEXT NOT NULL,
	domain_tag        TEXT NOT NULL DEFAULT '',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	queued_at         DATETIME NOT NULL,
	delivered_at      DATETIME,
	last_attempt_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_messages_client_status_created ON messages (client_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_status_attempt_queued ON messages (status, attempt_count, queued_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	operator_id TEXT,
	client_id   TEXT,
	source_addr TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, m *registry.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, message_id, client_id, hashed_sender, body_ciphertext, body_key_version, status, domain_tag, attempt_count, last_error, created_at, queued_at, delivered_at, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.MessageID, m.ClientID, m.HashedSender, m.BodyCiphertext, m.BodyKeyVersion, m.Status, m.DomainTag, m.AttemptCount, m.LastError, m.CreatedAt, m.QueuedAt, m.DeliveredAt, m.LastAttemptAt)
	if err != nil && isUniqueViolation(err) {
		return &registry.ErrAlreadyRegistered{MessageID: m.MessageID}
	}
	return err
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*registry.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectMessageCols+` WHERE message_id = ?`, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, &registry.ErrMessageNotFound{MessageID: messageID}
	}
	return m, nil
}

func (s *Store) TransitionToDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT status FROM messages WHERE message_id = ?`, messageID)
	var status string
	if err := row.Scan(&status); err != nil {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	if registry.Status(status) == registry.StatusDelivered || registry.Status(status) == registry.StatusFailed {
		return &registry.ErrInvalidTransition{MessageID: messageID, From: registry.Status(status)}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'DELIVERED', delivered_at = ? WHERE message_id = ? AND status IN ('QUEUED', 'PROCESSING')`,
		deliveredAt, messageID)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string, lastAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, attempt_count = ?, last_error = ?, last_attempt_at = ? WHERE message_id = ?`,
		status, attemptCount, lastError, lastAttemptAt, messageID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	return nil
}

const selectMessageCols = `SELECT id, message_id, client_id, hashed_sender, body_ciphertext, body_key_version, status, domain_tag, attempt_count, last_error, created_at, queued_at, delivered_at, last_attempt_at FROM messages`

type rowScanner interface{ Scan(dest ...any) error }

func scanMessage(r rowScanner) (*registry.Message, error) {
	var m registry.Message
	var status string
	if err := r.Scan(&m.ID, &m.MessageID, &m.ClientID, &m.HashedSender, &m.BodyCiphertext, &m.BodyKeyVersion,
		&status, &m.DomainTag, &m.AttemptCount, &m.LastError, &m.CreatedAt, &m.QueuedAt, &m.DeliveredAt, &m.LastAttemptAt); err != nil {
		return nil, err
	}
	m.Status = registry.Status(status)
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, filter registry.ListFilter) ([]*registry.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectMessageCols + ` WHERE 1=1`
	var args []any
	if filter.ClientID != nil {
		query += ` AND client_id = ?`
		args = append(args, *filter.ClientID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) Stats(ctx context.Context, clientID *string, now time.Time) (*registry.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &registry.Stats{ByStatus: make(map[registry.Status]int)}

	where, args := "1=1", []any{}
	if clientID != nil {
		where = "client_id = ?"
		args = append(args, *clientID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM messages WHERE %s GROUP BY status`, where), args...)
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
	_ = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM messages WHERE %s AND created_at >= ?`, where), hourArgs...).Scan(&stats.LastHourCount)

	dayArgs := append(append([]any{}, args...), now.Add(-24*time.Hour))
	_ = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM messages WHERE %s AND created_at >= ?`, where), dayArgs...).Scan(&stats.LastDayCount)

	return stats, nil
}

func (s *Store) PurgeDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE status = 'DELIVERED' AND delivered_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) AppendAudit(ctx context.Context, entry *registry.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, operator_id, client_id, source_addr, severity, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventType, entry.OperatorID, entry.ClientID, entry.SourceAddr, entry.Severity, string(detailsJSON), entry.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]*registry.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, event_type, operator_id, client_id, source_addr, severity, details, created_at FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.AuditEntry
	for rows.Next() {
		var e registry.AuditEntry
		var detailsJSON string
		var severity string
		if err := rows.Scan(&e.ID, &e.EventType, &e.OperatorID, &e.ClientID, &e.SourceAddr, &severity, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = registry.Severity(severity)
		_ = json.Unmarshal([]byte(detailsJSON), &e.Details)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
