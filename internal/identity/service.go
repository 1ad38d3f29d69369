package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/ipiton/message-broker/internal/crypto"
)

// clientCacheSize bounds the in-memory client lookup cache. The
// Ingress Gateway calls LookupClient once per submission, so an unbounded deployment's active-client set staying
// well under this easily keeps the hot path off the store.
const clientCacheSize = 1000

// Service implements the twelve Identity Store operations named in
// spec.md §4.2, on top of a Store and the shared Crypto Service. It is
// the seam the Ingress Gateway and operator portal call through
// instead of touching a Store directly.
//
// LookupClient and LookupClientByFingerprint sit in front of an LRU
// cache of resolved identities: every Ingress Gateway submission hits
// LookupClient, and a client's identity rarely changes between
// lookups. RegisterClient adds the new identity to both caches and
// RevokeClient evicts both entries for the affected client, so a
// revocation is visible to the next request.
type Service struct {
	store      Store
	logger     *slog.Logger
	clientByID *lru.Cache[string, *ClientIdentity]
	clientByFP *lru.Cache[string, *ClientIdentity]
}

// NewService constructs a Service over the given Store.
func NewService(store Store, logger *slog.Logger) *Service {
	byID, _ := lru.New[string, *ClientIdentity](clientCacheSize)
	byFP, _ := lru.New[string, *ClientIdentity](clientCacheSize)
	return &Service{store: store, logger: logger, clientByID: byID, clientByFP: byFP}
}

func (s *Service) cacheClient(c *ClientIdentity) {
	s.clientByID.Add(c.ClientID, c)
	if c.CertFingerprint != "" {
		s.clientByFP.Add(c.CertFingerprint, c)
	}
}

func (s *Service) evictClient(c *ClientIdentity) {
	s.clientByID.Remove(c.ClientID)
	if c.CertFingerprint != "" {
		s.clientByFP.Remove(c.CertFingerprint)
	}
}

// RegisterClient creates a new ACTIVE client identity. Fails with
// *ErrClientExists if one is already active for this client id.
func (s *Service) RegisterClient(ctx context.Context, clientID, certFingerprint, domainTag string, validFor time.Duration) (*ClientIdentity, error) {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("register_client").Observe(time.Since(start).Seconds()) }()

	if existing, err := s.store.GetClient(ctx, clientID); err == nil && existing.EffectiveStatus(time.Now()) == ClientActive {
		recordOperation("register_client", "conflict")
		return nil, &ErrClientExists{ClientID: clientID}
	}

	now := time.Now()
	c := &ClientIdentity{
		ClientID:        clientID,
		CertFingerprint: certFingerprint,
		DomainTag:       domainTag,
		Status:          ClientActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(validFor),
		CreatedAt:       now,
	}

	if err := s.store.InsertClient(ctx, c); err != nil {
		recordOperation("register_client", "error")
		return nil, err
	}

	s.cacheClient(c)
	recordOperation("register_client", "success")
	s.logger.Info("client registered", "client_id", clientID, "domain", domainTag)
	return c, nil
}

// RevokeClient transitions a client to REVOKED. Terminal: a second call
// fails with *ErrAlreadyRevoked.
func (s *Service) RevokeClient(ctx context.Context, clientID, reason string) error {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("revoke_client").Observe(time.Since(start).Seconds()) }()

	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		recordOperation("revoke_client", "not_found")
		return &ErrClientNotFound{ClientID: clientID}
	}
	if c.Status == ClientRevoked {
		recordOperation("revoke_client", "conflict")
		return &ErrAlreadyRevoked{ClientID: clientID}
	}

	if err := s.store.RevokeClient(ctx, clientID, reason, time.Now()); err != nil {
		recordOperation("revoke_client", "error")
		return err
	}

	s.evictClient(c)
	recordOperation("revoke_client", "success")
	s.logger.Warn("client revoked", "client_id", clientID, "reason", reason)
	return nil
}

// LookupClient resolves a client by id, serving from the LRU cache
// when possible.
func (s *Service) LookupClient(ctx context.Context, clientID string) (*ClientIdentity, error) {
	if c, ok := s.clientByID.Get(clientID); ok {
		return c, nil
	}

	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, &ErrClientNotFound{ClientID: clientID}
	}
	s.cacheClient(c)
	return c, nil
}

// LookupClientByFingerprint resolves a client by certificate
// fingerprint, serving from the LRU cache when possible. The Ingress
// Gateway does not call it; it resolves clients by id through
// LookupClient.
func (s *Service) LookupClientByFingerprint(ctx context.Context, fingerprint string) (*ClientIdentity, error) {
	if c, ok := s.clientByFP.Get(fingerprint); ok {
		return c, nil
	}

	c, err := s.store.GetClientByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, &ErrClientNotFound{Fingerprint: fingerprint}
	}
	s.cacheClient(c)
	return c, nil
}

// ListClients returns every client identity, active or not.
func (s *Service) ListClients(ctx context.Context) ([]*ClientIdentity, error) {
	return s.store.ListClients(ctx)
}

// ListExpiring returns ACTIVE clients whose certificates expire within
// the given window, for the operator console's renewal worklist.
func (s *Service) ListExpiring(ctx context.Context, within time.Duration) ([]*ClientIdentity, error) {
	return s.store.ListExpiring(ctx, within, time.Now())
}

// CreateOperator creates a new operator account with a bcrypt-hashed password.
func (s *Service) CreateOperator(ctx context.Context, email, password string, role OperatorRole, boundClientID *string) (*Operator, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}

	op := &Operator{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		BoundClientID: boundClientID,
		Active:        true,
		CreatedAt:     time.Now(),
	}

	if err := s.store.InsertOperator(ctx, op); err != nil {
		recordOperation("create_operator", "error")
		return nil, err
	}

	recordOperation("create_operator", "success")
	return op, nil
}

// GetOperator resolves an operator by id, for token refresh and the
// portal profile endpoint.
func (s *Service) GetOperator(ctx context.Context, id string) (*Operator, error) {
	op, err := s.store.GetOperator(ctx, id)
	if err != nil {
		return nil, &ErrOperatorNotFound{OperatorID: id}
	}
	return op, nil
}

// Authenticate verifies an operator's credentials. The failure path is
// deliberately uniform (§4.2): unknown email, wrong password, and an
// inactive account all produce the same *ErrAuthFailed.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Operator, error) {
	start := time.Now()
	defer func() { OperationDuration.WithLabelValues("authenticate").Observe(time.Since(start).Seconds()) }()

	op, err := s.store.GetOperatorByEmail(ctx, email)
	if err != nil {
		AuthAttemptsTotal.WithLabelValues("no_such_email").Inc()
		return nil, &ErrAuthFailed{}
	}

	if !op.Active || !crypto.VerifyPassword(password, op.PasswordHash) {
		AuthAttemptsTotal.WithLabelValues("rejected").Inc()
		return nil, &ErrAuthFailed{}
	}

	now := time.Now()
	_ = s.store.TouchLastLogin(ctx, op.ID, now)
	op.LastLoginAt = &now

	AuthAttemptsTotal.WithLabelValues("success").Inc()
	return op, nil
}

// UpdateOperatorRole changes an operator's RBAC role. Refuses when
// callerID equals id (§4.2: ADMIN/USER_MANAGER may not self-promote).
func (s *Service) UpdateOperatorRole(ctx context.Context, callerID, id string, role OperatorRole) error {
	if callerID == id {
		return &ErrSelfStatusChange{OperatorID: id}
	}
	return s.store.UpdateOperatorRole(ctx, id, role)
}

// UpdateOperatorStatus toggles an operator's active flag. Refuses when
// callerID equals id (§3: operators may not toggle their own flag).
func (s *Service) UpdateOperatorStatus(ctx context.Context, callerID, id string, active bool) error {
	if callerID == id {
		return &ErrSelfStatusChange{OperatorID: id}
	}
	return s.store.UpdateOperatorStatus(ctx, id, active)
}

// ChangePassword updates an operator's password hash after the caller
// has already verified the old password (callers enforce that check;
// this method is also used by RedeemResetTicket, which has no old
// password to verify).
func (s *Service) ChangePassword(ctx context.Context, id, newPassword string) error {
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdateOperatorPassword(ctx, id, hash)
}

// IssueResetTicket always reports success to the caller regardless of
// whether email exists, to defend against account enumeration (§4.2).
// It only materializes a ticket when the email resolves to an operator;
// dispatching the notification email is the caller's (portal's)
// responsibility once it receives a non-nil token back for logging/
// audit purposes only — the HTTP response never includes it.
func (s *Service) IssueResetTicket(ctx context.Context, email string) (*PasswordResetTicket, error) {
	op, err := s.store.GetOperatorByEmail(ctx, email)
	if err != nil {
		return nil, nil // success to the caller; nothing materialized
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	ticket := &PasswordResetTicket{
		ID:         uuid.NewString(),
		OperatorID: op.ID,
		Token:      token,
		ExpiresAt:  time.Now().Add(1 * time.Hour),
		CreatedAt:  time.Now(),
	}

	if err := s.store.InsertResetTicket(ctx, ticket); err != nil {
		return nil, err
	}

	return ticket, nil
}

// RedeemResetTicket validates a reset token and sets the new password
// atomically with marking the ticket used.
func (s *Service) RedeemResetTicket(ctx context.Context, token, newPassword string) error {
	ticket, err := s.store.GetResetTicket(ctx, token)
	if err != nil || !ticket.Valid(time.Now()) {
		return &ErrResetTicketInvalid{}
	}

	if err := s.ChangePassword(ctx, ticket.OperatorID, newPassword); err != nil {
		return err
	}

	return s.store.MarkResetTicketUsed(ctx, ticket.ID, time.Now())
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("identity: failed to generate reset token")
	}
	return hex.EncodeToString(buf), nil
}
