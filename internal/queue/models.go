// Package queue implements the Durable Work Queue (C4): a Redis-backed
// FIFO of plaintext delivery work items, decoupled from the encrypted
// confirmation ledger in internal/registry. Grounded on the teacher's
// internal/infrastructure/cache/redis.go for client construction and
// internal/infrastructure/lock/distributed.go for Redis option defaults.
package queue

import "time"

// WorkItem is the ephemeral queued unit consumed by C6 workers. It
// carries plaintext sender/body, per spec.md §3 — the ciphertext lives
// only in the registry's durable ledger (C3).
type WorkItem struct {
	MessageID    string    `json:"message_id"`
	ClientID     string    `json:"client_id"`
	SenderNumber string    `json:"sender_number"`
	Body         string    `json:"body"`
	DomainTag    string    `json:"domain_tag"`
	QueuedAt     time.Time `json:"queued_at"`
	AttemptCount int       `json:"attempt_count"`
}
