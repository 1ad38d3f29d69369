package authz_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/authz"
	"github.com/ipiton/message-broker/internal/identity"
)

func testOperator(role identity.OperatorRole, boundClientID *string) *identity.Operator {
	return &identity.Operator{
		ID:            "op-1",
		Email:         "op@example.com",
		Role:          role,
		BoundClientID: boundClientID,
		Active:        true,
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	op := testOperator(identity.RoleAdmin, nil)

	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, op.ID, claims.OperatorID)
	require.Equal(t, identity.RoleAdmin, claims.Role)
	require.Empty(t, claims.BoundClientID)
}

func TestIssueAccessTokenCarriesBoundClientID(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	clientID := "client-42"
	op := testOperator(identity.RoleUser, &clientID)

	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, clientID, claims.BoundClientID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	op := testOperator(identity.RoleUser, nil)

	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	_, err = issuer.Verify(token + "tampered")
	require.ErrorIs(t, err, authz.ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", -time.Minute, 24*time.Hour)
	op := testOperator(identity.RoleUser, nil)

	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.ErrorIs(t, err, authz.ErrInvalidToken)
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuerA := authz.NewTokenIssuer("secret-a", time.Hour, 24*time.Hour)
	issuerB := authz.NewTokenIssuer("secret-b", time.Hour, 24*time.Hour)
	op := testOperator(identity.RoleUser, nil)

	token, err := issuerA.IssueAccessToken(op)
	require.NoError(t, err)

	_, err = issuerB.Verify(token)
	require.ErrorIs(t, err, authz.ErrInvalidToken)
}

func TestVerifyRefreshRejectsAccessToken(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	op := testOperator(identity.RoleUser, nil)

	access, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	_, err = issuer.VerifyRefresh(access)
	require.ErrorIs(t, err, authz.ErrInvalidToken)
}

func TestIssueRefreshTokenRoundTrips(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	op := testOperator(identity.RoleUserManager, nil)

	refresh, err := issuer.IssueRefreshToken(op)
	require.NoError(t, err)

	claims, err := issuer.VerifyRefresh(refresh)
	require.NoError(t, err)
	require.Equal(t, op.ID, claims.OperatorID)
	require.Equal(t, identity.RoleUserManager, claims.Role)
}
