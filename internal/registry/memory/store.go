// Package memory implements registry.Store in process memory, for
// unit tests. Grounded on the teacher's
// internal/storage/memory/memory_storage.go.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipiton/message-broker/internal/registry"
)

// Store implements registry.Store over plain Go maps.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*registry.Message // MessageID -> message
	audit    []*registry.AuditEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{messages: make(map[string]*registry.Message)}
}

func (s *Store) InsertMessage(_ context.Context, m *registry.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[m.MessageID]; exists {
		return &registry.ErrAlreadyRegistered{MessageID: m.MessageID}
	}

	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.messages[m.MessageID] = &cp
	m.ID = cp.ID
	return nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (*registry.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, &registry.ErrMessageNotFound{MessageID: messageID}
	}
	cp := *m
	return &cp, nil
}

func (s *Store) TransitionToDelivered(_ context.Context, messageID string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	if m.Status == registry.StatusDelivered || m.Status == registry.StatusFailed {
		return &registry.ErrInvalidTransition{MessageID: messageID, From: m.Status}
	}
	m.Status = registry.StatusDelivered
	m.DeliveredAt = &deliveredAt
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, messageID string, status registry.Status, attemptCount int, lastError string, lastAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	m.Status = status
	m.AttemptCount = attemptCount
	m.LastError = lastError
	m.LastAttemptAt = &lastAttemptAt
	return nil
}

func (s *Store) ListMessages(_ context.Context, filter registry.ListFilter) ([]*registry.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*registry.Message
	for _, m := range s.messages {
		if filter.ClientID != nil && m.ClientID != *filter.ClientID {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context, clientID *string, now time.Time) (*registry.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &registry.Stats{ByStatus: make(map[registry.Status]int)}
	for _, m := range s.messages {
		if clientID != nil && m.ClientID != *clientID {
			continue
		}
		stats.Total++
		stats.ByStatus[m.Status]++
		if now.Sub(m.CreatedAt) <= time.Hour {
			stats.LastHourCount++
		}
		if now.Sub(m.CreatedAt) <= 24*time.Hour {
			stats.LastDayCount++
		}
	}
	return stats, nil
}

func (s *Store) PurgeDeliveredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, m := range s.messages {
		if m.Status == registry.StatusDelivered && m.DeliveredAt != nil && m.DeliveredAt.Before(cutoff) {
			delete(s.messages, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) AppendAudit(_ context.Context, entry *registry.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListAudit(_ context.Context, limit, offset int) ([]*registry.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	reversed := make([]*registry.AuditEntry, len(s.audit))
	for i, e := range s.audit {
		reversed[len(s.audit)-1-i] = e
	}

	if offset > 0 && offset < len(reversed) {
		reversed = reversed[offset:]
	} else if offset >= len(reversed) {
		reversed = nil
	}
	if limit > 0 && limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed, nil
}
