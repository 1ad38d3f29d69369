package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/crypto"
	"github.com/ipiton/message-broker/internal/registry"
	"github.com/ipiton/message-broker/internal/registry/memory"
)

func newTestService(t *testing.T) *registry.Service {
	t.Helper()
	dir := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveKeyToFile(key, dir+"/v1.key"))

	cm := crypto.NewManager("test-salt")
	require.NoError(t, cm.LoadKeyDir(dir))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.NewService(memory.New(), cm, logger)
}

func TestRegisterIsIdempotentOnMessageID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	in := registry.RegisterInput{
		MessageID:     "msg-1",
		ClientID:      "client-1",
		SenderNumber:  "+15555550100",
		PlaintextBody: "hello",
		QueuedAt:      time.Now(),
		DomainTag:     "acme",
	}

	_, err := svc.Register(ctx, in)
	require.NoError(t, err)

	_, err = svc.Register(ctx, in)
	var dup *registry.ErrAlreadyRegistered
	require.ErrorAs(t, err, &dup)
}

func TestDeliverAlreadyDeliveredIsObservable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, registry.RegisterInput{
		MessageID: "msg-1", ClientID: "client-1", SenderNumber: "+15555550100",
		PlaintextBody: "hi", QueuedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = svc.Deliver(ctx, "msg-1", "worker-1")
	require.NoError(t, err)

	_, err = svc.Deliver(ctx, "msg-1", "worker-2")
	var invalid *registry.ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.True(t, invalid.AlreadyDelivered())
}

func TestDeliverUnknownMessageIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Deliver(ctx, "does-not-exist", "worker-1")
	var notFound *registry.ErrMessageNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestUpdateStatusToFailedIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, registry.RegisterInput{
		MessageID: "msg-1", ClientID: "client-1", SenderNumber: "+15555550100",
		PlaintextBody: "hi", QueuedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(ctx, "msg-1", registry.StatusFailed, 10, "max attempts exceeded"))

	_, err = svc.Deliver(ctx, "msg-1", "worker-1")
	var invalid *registry.ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.False(t, invalid.AlreadyDelivered())
}

func TestListMessagesScopesByClient(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	for _, c := range []string{"client-1", "client-2"} {
		_, err := svc.Register(ctx, registry.RegisterInput{
			MessageID: c + "-msg", ClientID: c, SenderNumber: "+15555550100",
			PlaintextBody: "hi", QueuedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	clientID := "client-1"
	msgs, err := svc.ListMessages(ctx, registry.ListFilter{ClientID: &clientID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "client-1", msgs[0].ClientID)
}
