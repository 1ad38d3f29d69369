// Package registry implements the Message Registry (C3) and the audit
// ledger it owns, plus (in registry/api) the Confirmation API (C7)
// HTTP surface the gateway and worker call. Grounded on the teacher's
// internal/core (AlertStorage interface pattern) and
// internal/storage/sqlite / Postgres adapters, generalized from
// "alerts" to "messages".
package registry

import "time"

// Status is the lifecycle state of a Message, per the diagram in spec.md §3.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
)

// Message is the durable record of a single submission. The body is
// always stored encrypted (BodyCiphertext, BodyKeyVersion); Service
// encrypts the plaintext before it reaches a Store.
type Message struct {
	ID              string // internal row id
	MessageID       string // external UUID, unique
	ClientID        string
	HashedSender    string // hex(SHA-256(salt || sender_number))
	BodyCiphertext  string // base64 ciphertext
	BodyKeyVersion  int
	Status          Status
	DomainTag       string
	AttemptCount    int
	LastError       string
	CreatedAt       time.Time
	QueuedAt        time.Time
	DeliveredAt     *time.Time
	LastAttemptAt   *time.Time
}

// Severity classifies an AuditEntry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// AuditEntry is an append-only security-relevant event record (§3).
// OperatorID nulls out on operator deletion but the entry is retained.
type AuditEntry struct {
	ID         string
	EventType  string
	OperatorID *string
	ClientID   *string
	SourceAddr string
	Severity   Severity
	Details    map[string]any
	CreatedAt  time.Time
}

// Stats is the aggregate view the operator console's dashboard queries.
type Stats struct {
	Total         int
	ByStatus      map[Status]int
	LastHourCount int
	LastDayCount  int
}

// ListFilter scopes a paginated message listing to a role (§4.7: a
// USER bound to a client sees only that client's messages) and
// optional status.
type ListFilter struct {
	ClientID *string // nil means "no client restriction" (ADMIN/USER_MANAGER)
	Status   *Status
	Limit    int
	Offset   int
}
