package identity_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/identity/memory"
)

func newTestService() *identity.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return identity.NewService(memory.New(), logger)
}

func TestRegisterClientRejectsDuplicateActive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.RegisterClient(ctx, "client-1", "fp-1", "acme", 24*time.Hour)
	require.NoError(t, err)

	_, err = svc.RegisterClient(ctx, "client-1", "fp-2", "acme", 24*time.Hour)
	var conflict *identity.ErrClientExists
	require.ErrorAs(t, err, &conflict)
}

func TestRevokeClientIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.RegisterClient(ctx, "client-1", "fp-1", "acme", 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeClient(ctx, "client-1", "compromised"))

	err = svc.RevokeClient(ctx, "client-1", "compromised again")
	var alreadyRevoked *identity.ErrAlreadyRevoked
	require.ErrorAs(t, err, &alreadyRevoked)
}

func TestAuthenticateUniformFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.CreateOperator(ctx, "[email protected]", "correct horse battery staple", identity.RoleAdmin, nil)
	require.NoError(t, err)

	_, errUnknownEmail := svc.Authenticate(ctx, "[email protected]", "whatever password")
	_, errWrongPassword := svc.Authenticate(ctx, "[email protected]", "wrong password entirely")

	var authFailed1, authFailed2 *identity.ErrAuthFailed
	require.ErrorAs(t, errUnknownEmail, &authFailed1)
	require.ErrorAs(t, errWrongPassword, &authFailed2)

	op, err := svc.Authenticate(ctx, "[email protected]", "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, op.Role)
}

func TestUpdateOperatorStatusRefusesSelf(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, err := svc.CreateOperator(ctx, "[email protected]", "correct horse battery staple", identity.RoleAdmin, nil)
	require.NoError(t, err)

	err = svc.UpdateOperatorStatus(ctx, op.ID, op.ID, false)
	var self *identity.ErrSelfStatusChange
	require.ErrorAs(t, err, &self)
}

func TestIssueAndRedeemResetTicket(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, err := svc.CreateOperator(ctx, "[email protected]", "correct horse battery staple", identity.RoleUser, nil)
	require.NoError(t, err)

	ticket, err := svc.IssueResetTicket(ctx, op.Email)
	require.NoError(t, err)
	require.NotNil(t, ticket)

	require.NoError(t, svc.RedeemResetTicket(ctx, ticket.Token, "a brand new password"))

	_, err = svc.Authenticate(ctx, op.Email, "a brand new password")
	require.NoError(t, err)

	// Reusing the same ticket fails.
	err = svc.RedeemResetTicket(ctx, ticket.Token, "yet another password")
	var invalid *identity.ErrResetTicketInvalid
	require.ErrorAs(t, err, &invalid)
}

func TestIssueResetTicketSilentOnUnknownEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	ticket, err := svc.IssueResetTicket(ctx, "[email protected]")
	require.NoError(t, err)
	assert.Nil(t, ticket)
}
