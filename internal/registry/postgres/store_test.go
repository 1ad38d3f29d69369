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

	"github.com/ipiton/message-broker/internal/registry"
)

// setupTestPool starts a disposable PostgreSQL container and applies
// the schema the messages/audit_log stores expect, mirroring the
// goose migrations under migrations/. Grounded on the teacher's
// internal/infrastructure/repository/postgres_history_test.go
// setupTestDB helper.
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

	CREATE TABLE messages (
		id               UUID PRIMARY KEY,
		message_id       UUID NOT NULL UNIQUE,
		client_id        TEXT NOT NULL REFERENCES clients (client_id),
		hashed_sender    TEXT NOT NULL,
		body_ciphertext  TEXT NOT NULL,
		body_key_version INTEGER NOT NULL,
		status           TEXT NOT NULL,
		domain_tag       TEXT NOT NULL DEFAULT '',
		attempt_count    INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		queued_at        TIMESTAMPTZ NOT NULL,
		delivered_at     TIMESTAMPTZ,
		last_attempt_at  TIMESTAMPTZ
	);

	CREATE TABLE audit_log (
		id          UUID PRIMARY KEY,
		event_type  TEXT NOT NULL,
		operator_id UUID REFERENCES operators (id) ON DELETE SET NULL,
		client_id   TEXT,
		source_addr TEXT NOT NULL DEFAULT '',
		severity    TEXT NOT NULL,
		details     JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `INSERT INTO clients (client_id, cert_fingerprint, status, issued_at, expires_at) VALUES ($1, $2, 'ACTIVE', now(), now() + interval '1 year')`,
		"client-1", "fingerprint-1")
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}

	return pool
}

func TestStore_InsertAndGetMessage(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	msg := &registry.Message{
		MessageID:      "11111111-1111-1111-1111-111111111111",
		ClientID:       "client-1",
		HashedSender:   "deadbeef",
		BodyCiphertext: "ciphertext",
		BodyKeyVersion: 1,
		Status:         registry.StatusQueued,
		CreatedAt:      now,
		QueuedAt:       now,
	}

	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Status != registry.StatusQueued {
		t.Errorf("status = %q, want QUEUED", got.Status)
	}

	if err := store.InsertMessage(ctx, msg); err == nil {
		t.Error("expected duplicate insert to fail")
	}
}

func TestStore_TransitionToDelivered(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	msg := &registry.Message{
		MessageID:      "22222222-2222-2222-2222-222222222222",
		ClientID:       "client-1",
		HashedSender:   "deadbeef",
		BodyCiphertext: "ciphertext",
		BodyKeyVersion: 1,
		Status:         registry.StatusQueued,
		CreatedAt:      now,
		QueuedAt:       now,
	}
	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := store.TransitionToDelivered(ctx, msg.MessageID, now.Add(time.Second)); err != nil {
		t.Fatalf("transition to delivered: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Status != registry.StatusDelivered {
		t.Errorf("status = %q, want DELIVERED", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("delivered_at not set")
	}

	if err := store.TransitionToDelivered(ctx, msg.MessageID, now); err == nil {
		t.Error("expected re-delivery transition to fail")
	}
}

func TestStore_ListMessagesAndStats(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i, status := range []registry.Status{registry.StatusQueued, registry.StatusDelivered, registry.StatusFailed} {
		msg := &registry.Message{
			MessageID:      uuidForTest(i),
			ClientID:       "client-1",
			HashedSender:   "deadbeef",
			BodyCiphertext: "ciphertext",
			BodyKeyVersion: 1,
			Status:         status,
			CreatedAt:      now,
			QueuedAt:       now,
		}
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
	}

	clientID := "client-1"
	messages, err := store.ListMessages(ctx, registry.ListFilter{ClientID: &clientID, Limit: 10})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}

	stats, err := store.Stats(ctx, &clientID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[registry.StatusDelivered] != 1 {
		t.Errorf("delivered count = %d, want 1", stats.ByStatus[registry.StatusDelivered])
	}
}

func TestStore_PurgeDeliveredBefore(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	past := time.Now().UTC().Add(-48 * time.Hour)
	msg := &registry.Message{
		MessageID:      "33333333-3333-3333-3333-333333333333",
		ClientID:       "client-1",
		HashedSender:   "deadbeef",
		BodyCiphertext: "ciphertext",
		BodyKeyVersion: 1,
		Status:         registry.StatusQueued,
		CreatedAt:      past,
		QueuedAt:       past,
	}
	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := store.TransitionToDelivered(ctx, msg.MessageID, past); err != nil {
		t.Fatalf("transition to delivered: %v", err)
	}

	purged, err := store.PurgeDeliveredBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge delivered: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := store.GetMessage(ctx, msg.MessageID); err == nil {
		t.Error("expected purged message to be gone")
	}
}

func TestStore_AppendAndListAudit(t *testing.T) {
	pool := setupTestPool(t)
	store := New(pool)
	ctx := context.Background()

	clientID := "client-1"
	entry := &registry.AuditEntry{
		EventType: "message_registered",
		ClientID:  &clientID,
		Severity:  registry.SeverityInfo,
		Details:   map[string]any{"message_id": "abc"},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	entries, err := store.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	if entries[0].EventType != "message_registered" {
		t.Errorf("event_type = %q, want message_registered", entries[0].EventType)
	}
}

func uuidForTest(i int) string {
	base := [...]string{
		"44444444-4444-4444-4444-444444444444",
		"55555555-5555-5555-5555-555555555555",
		"66666666-6666-6666-6666-666666666666",
	}
	return base[i%len(base)]
}
