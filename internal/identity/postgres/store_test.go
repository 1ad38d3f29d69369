//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ipiton/message-broker/internal/identity"
)

// setupTestPool mirrors registry/postgres's helper of the same name,
// grounded on the teacher's postgres_history_test.go container setup.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("broker_test"),
		tcpostgres.WithUsername("broker"),
		tcpostgres.WithPassword("broker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	const schema = `
	CREATE TABLE clients (
		client_id         TEXT PRIMARY KEY,
		cert_fingerprint  TEXT NOT NULL UNIQUE,
		domain_tag        TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		issued_at         TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL,
		revoked_at        TIMESTAMPTZ,
		revocation_reason TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE operators (
		id              UUID PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL,
		role            TEXT NOT NULL,
		bound_client_id TEXT REFERENCES clients (client_id),
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login_at   TIMESTAMPTZ
	);

	CREATE TABLE password_reset_tickets (
		id          UUID PRIMARY KEY,
		operator_id UUID NOT NULL REFERENCES operators (id),
		token       TEXT NOT NULL UNIQUE,
		expires_at  TIMESTAMPTZ NOT NULL,
		used_at     TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return pool
}

func TestStore_InsertAndRevokeClient(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	client := &identity.ClientIdentity{
		ClientID:        "client-1",
		CertFingerprint: "fingerprint-1",
		DomainTag:       "billing",
		Status:          identity.ClientActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(365 * 24 * time.Hour),
		CreatedAt:       now,
	}
	if err := store.InsertClient(ctx, client); err != nil {
		t.Fatalf("insert client: %v", err)
	}

	if err := store.InsertClient(ctx, client); err == nil {
		t.Error("expected duplicate active client insert to fail")
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got.CertFingerprint != "fingerprint-1" {
		t.Errorf("fingerprint = %q, want fingerprint-1", got.CertFingerprint)
	}

	byFingerprint, err := store.GetClientByFingerprint(ctx, "fingerprint-1")
	if err != nil {
		t.Fatalf("get client by fingerprint: %v", err)
	}
	if byFingerprint.ClientID != "client-1" {
		t.Errorf("client_id = %q, want client-1", byFingerprint.ClientID)
	}

	if err := store.RevokeClient(ctx, "client-1", "compromised key", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke client: %v", err)
	}
	revoked, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("get client after revoke: %v", err)
	}
	if revoked.Status != identity.ClientRevoked {
		t.Errorf("status = %q, want REVOKED", revoked.Status)
	}
}

func TestStore_ListExpiring(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	soon := &identity.ClientIdentity{
		ClientID:        "client-soon",
		CertFingerprint: "fp-soon",
		Status:          identity.ClientActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Hour),
		CreatedAt:       now,
	}
	later := &identity.ClientIdentity{
		ClientID:        "client-later",
		CertFingerprint: "fp-later",
		Status:          identity.ClientActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(30 * 24 * time.Hour),
		CreatedAt:       now,
	}
	if err := store.InsertClient(ctx, soon); err != nil {
		t.Fatalf("insert soon client: %v", err)
	}
	if err := store.InsertClient(ctx, later); err != nil {
		t.Fatalf("insert later client: %v", err)
	}

	expiring, err := store.ListExpiring(ctx, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ClientID != "client-soon" {
		t.Errorf("expiring = %+v, want only client-soon", expiring)
	}
}

func TestStore_OperatorLifecycle(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	op := &identity.Operator{
		ID:           "11111111-1111-1111-1111-111111111111",
		Email:        "operator@example.com",
		PasswordHash: "hash",
		Role:         identity.RoleUser,
		Active:       true,
		CreatedAt:    now,
	}
	if err := store.InsertOperator(ctx, op); err != nil {
		t.Fatalf("insert operator: %v", err)
	}

	byEmail, err := store.GetOperatorByEmail(ctx, "operator@example.com")
	if err != nil {
		t.Fatalf("get operator by email: %v", err)
	}
	if byEmail.ID != op.ID {
		t.Errorf("id = %q, want %q", byEmail.ID, op.ID)
	}

	if err := store.UpdateOperatorRole(ctx, op.ID, identity.RoleAdmin); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if err := store.UpdateOperatorStatus(ctx, op.ID, false); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := store.UpdateOperatorPassword(ctx, op.ID, "new-hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := store.TouchLastLogin(ctx, op.ID, now); err != nil {
		t.Fatalf("touch last login: %v", err)
	}

	updated, err := store.GetOperator(ctx, op.ID)
	if err != nil {
		t.Fatalf("get operator: %v", err)
	}
	if updated.Role != identity.RoleAdmin {
		t.Errorf("role = %q, want ADMIN", updated.Role)
	}
	if updated.Active {
		t.Error("expected operator to be inactive")
	}
	if updated.PasswordHash != "new-hash" {
		t.Errorf("password_hash = %q, want new-hash", updated.PasswordHash)
	}
}

func TestStore_ResetTicketLifecycle(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	op := &identity.Operator{
		ID:           "22222222-2222-2222-2222-222222222222",
		Email:        "reset@example.com",
		PasswordHash: "hash",
		Role:         identity.RoleUser,
		Active:       true,
		CreatedAt:    now,
	}
	if err := store.InsertOperator(ctx, op); err != nil {
		t.Fatalf("insert operator: %v", err)
	}

	ticket := &identity.PasswordResetTicket{
		ID:         "33333333-3333-3333-3333-333333333333",
		OperatorID: op.ID,
		Token:      "reset-token",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
	}
	if err := store.InsertResetTicket(ctx, ticket); err != nil {
		t.Fatalf("insert reset ticket: %v", err)
	}

	got, err := store.GetResetTicket(ctx, "reset-token")
	if err != nil {
		t.Fatalf("get reset ticket: %v", err)
	}
	if got.UsedAt != nil {
		t.Error("expected fresh ticket to be unused")
	}

	if err := store.MarkResetTicketUsed(ctx, ticket.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark reset ticket used: %v", err)
	}

	if _, err := store.GetResetTicket(ctx, "does-not-exist"); err == nil {
		t.Error("expected lookup of unknown token to fail")
	}
}
