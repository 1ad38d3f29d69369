// Package memory implements identity.Store in process memory. Used by
// unit tests and as the backing store for the "lite" deployment
// profile's ephemeral dev mode; grounded on the teacher's
// internal/storage/memory/memory_storage.go (in-memory map guarded by
// a RWMutex, no persistence).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ipiton/message-broker/internal/identity"
)

// Store implements identity.Store over plain Go maps. Not persisted:
// restart loses all data. Thread-safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	clients   map[string]*identity.ClientIdentity // clientID -> client
	byFP      map[string]string                   // fingerprint -> clientID
	operators map[string]*identity.Operator       // operatorID -> operator
	byEmail   map[string]string                   // email -> operatorID
	tickets   map[string]*identity.PasswordResetTicket // token -> ticket
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		clients:   make(map[string]*identity.ClientIdentity),
		byFP:      make(map[string]string),
		operators: make(map[string]*identity.Operator),
		byEmail:   make(map[string]string),
		tickets:   make(map[string]*identity.PasswordResetTicket),
	}
}

func (s *Store) InsertClient(_ context.Context, c *identity.ClientIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.clients[c.ClientID]; ok && existing.Status == identity.ClientActive {
		return &identity.ErrClientExists{ClientID: c.ClientID}
	}

	cp := *c
	s.clients[c.ClientID] = &cp
	s.byFP[c.CertFingerprint] = c.ClientID
	return nil
}

func (s *Store) RevokeClient(_ context.Context, clientID, reason string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return &identity.ErrClientNotFound{ClientID: clientID}
	}
	c.Status = identity.ClientRevoked
	c.RevokedAt = &revokedAt
	c.RevocationReason = reason
	return nil
}

func (s *Store) GetClient(_ context.Context, clientID string) (*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, &identity.ErrClientNotFound{ClientID: clientID}
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetClientByFingerprint(_ context.Context, fingerprint string) (*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientID, ok := s.byFP[fingerprint]
	if !ok {
		return nil, &identity.ErrClientNotFound{Fingerprint: fingerprint}
	}
	cp := *s.clients[clientID]
	return &cp, nil
}

func (s *Store) ListClients(_ context.Context) ([]*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*identity.ClientIdentity, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListExpiring(_ context.Context, within time.Duration, now time.Time) ([]*identity.ClientIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(within)
	var out []*identity.ClientIdentity
	for _, c := range s.clients {
		if c.Status == identity.ClientActive && c.ExpiresAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) InsertOperator(_ context.Context, op *identity.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *op
	s.operators[op.ID] = &cp
	s.byEmail[op.Email] = op.ID
	return nil
}

func (s *Store) GetOperatorByEmail(_ context.Context, email string) (*identity.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, &identity.ErrOperatorNotFound{Email: email}
	}
	cp := *s.operators[id]
	return &cp, nil
}

func (s *Store) GetOperator(_ context.Context, id string) (*identity.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[id]
	if !ok {
		return nil, &identity.ErrOperatorNotFound{OperatorID: id}
	}
	cp := *op
	return &cp, nil
}

func (s *Store) UpdateOperatorRole(_ context.Context, id string, role identity.OperatorRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	op.Role = role
	return nil
}

func (s *Store) UpdateOperatorStatus(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	op.Active = active
	return nil
}

func (s *Store) UpdateOperatorPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	op.PasswordHash = passwordHash
	return nil
}

func (s *Store) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return &identity.ErrOperatorNotFound{OperatorID: id}
	}
	op.LastLoginAt = &at
	return nil
}

func (s *Store) InsertResetTicket(_ context.Context, t *identity.PasswordResetTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tickets[t.Token] = &cp
	return nil
}

func (s *Store) GetResetTicket(_ context.Context, token string) (*identity.PasswordResetTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[token]
	if !ok {
		return nil, &identity.ErrResetTicketInvalid{}
	}
	cp := *t
	return &cp, nil
}

func (s *Store) MarkResetTicketUsed(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.ID == id {
			t.UsedAt = &usedAt
			return nil
		}
	}
	return &identity.ErrResetTicketInvalid{}
}
