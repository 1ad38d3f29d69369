package authz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/authz"
	"github.com/ipiton/message-broker/internal/identity"
)

func TestMiddlewareRejectsMissingAuthorizationHeader(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	handler := authz.Middleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/portal/profile", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareAcceptsValidBearerToken(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	op := testOperator(identity.RoleUser, nil)
	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	var gotClaims *authz.Claims
	handler := authz.Middleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = authz.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/portal/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotClaims)
	require.Equal(t, op.ID, gotClaims.OperatorID)
}

func TestMiddlewareRejectsRefreshTokenAsAccess(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	op := testOperator(identity.RoleUser, nil)
	refresh, err := issuer.IssueRefreshToken(op)
	require.NoError(t, err)

	handler := authz.Middleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/portal/profile", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireRoleAllowsSufficientRole(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	op := testOperator(identity.RoleAdmin, nil)
	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	handler := authz.Middleware(issuer)(authz.RequireRole(identity.RoleUserManager)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRoleRejectsInsufficientRole(t *testing.T) {
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	op := testOperator(identity.RoleUser, nil)
	token, err := issuer.IssueAccessToken(op)
	require.NoError(t, err)

	handler := authz.Middleware(issuer)(authz.RequireRole(identity.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
}
