package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/authz"
	"github.com/ipiton/message-broker/internal/crypto"
	"github.com/ipiton/message-broker/internal/identity"
	idmemory "github.com/ipiton/message-broker/internal/identity/memory"
	"github.com/ipiton/message-broker/internal/portal/api"
	"github.com/ipiton/message-broker/internal/registry"
	regmemory "github.com/ipiton/message-broker/internal/registry/memory"
)

type testEnv struct {
	router   http.Handler
	identity *identity.Service
	registry *registry.Service
	crypto   *crypto.Manager
	issuer   *authz.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keyDir := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveKeyToFile(key, keyDir+"/v1.key"))
	cm := crypto.NewManager("test-salt")
	require.NoError(t, cm.LoadKeyDir(keyDir))

	identitySvc := identity.NewService(idmemory.New(), logger)
	registrySvc := registry.NewService(regmemory.New(), cm, logger)
	issuer := authz.NewTokenIssuer("test-secret", time.Hour, time.Hour)

	h := api.NewHandler(identitySvc, registrySvc, cm, issuer)
	return &testEnv{router: api.NewRouter(h), identity: identitySvc, registry: registrySvc, crypto: cm, issuer: issuer}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.identity.CreateOperator(t.Context(), "admin@example.com", "hunter2pass", identity.RoleAdmin, nil)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodPost, "/portal/auth/login",
		map[string]string{"email": "admin@example.com", "password": "hunter2pass"}, "")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.identity.CreateOperator(t.Context(), "admin@example.com", "hunter2pass", identity.RoleAdmin, nil)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodPost, "/portal/auth/login",
		map[string]string{"email": "admin@example.com", "password": "wrong"}, "")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProfileRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	rr := doJSON(t, env.router, http.MethodGet, "/portal/profile", nil, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProfileReturnsAuthenticatedOperator(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "user@example.com", "hunter2pass", identity.RoleUser, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/portal/profile", nil, token)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "user@example.com", resp.Email)
}

func TestMessagesForbiddenForUserManager(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "mgr@example.com", "hunter2pass", identity.RoleUserManager, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/portal/messages", nil, token)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMessagesScopedToBoundClientForUser(t *testing.T) {
	env := newTestEnv(t)
	clientID := "client-1"

	_, err := env.registry.Register(t.Context(), registry.RegisterInput{
		ClientID: clientID, SenderNumber: "+15551234567", PlaintextBody: "hello", QueuedAt: time.Now(),
	})
	require.NoError(t, err)
	otherClient := "client-2"
	_, err = env.registry.Register(t.Context(), registry.RegisterInput{
		ClientID: otherClient, SenderNumber: "+15557654321", PlaintextBody: "other", QueuedAt: time.Now(),
	})
	require.NoError(t, err)

	op, err := env.identity.CreateOperator(t.Context(), "user@example.com", "hunter2pass", identity.RoleUser, &clientID)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/portal/messages", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Messages []struct {
			ClientID string `json:"client_id"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, clientID, resp.Messages[0].ClientID)
}

func TestMessageDetailForbiddenForUser(t *testing.T) {
	env := newTestEnv(t)
	clientID := "client-1"
	_, err := env.registry.Register(t.Context(), registry.RegisterInput{
		MessageID: "msg-forbidden", ClientID: clientID, SenderNumber: "+15551234567", PlaintextBody: "hello", QueuedAt: time.Now(),
	})
	require.NoError(t, err)

	op, err := env.identity.CreateOperator(t.Context(), "user@example.com", "hunter2pass", identity.RoleUser, &clientID)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/admin/messages/msg-forbidden", nil, token)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMessageDetailDecryptsBodyForAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Register(t.Context(), registry.RegisterInput{
		MessageID: "msg-decrypt", ClientID: "client-1", SenderNumber: "+15551234567", PlaintextBody: "the actual message body", QueuedAt: time.Now(),
	})
	require.NoError(t, err)

	op, err := env.identity.CreateOperator(t.Context(), "admin@example.com", "hunter2pass", identity.RoleAdmin, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/admin/messages/msg-decrypt", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Body string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "the actual message body", resp.Body)
}

func TestCertificateEndpointsForbiddenForUserManager(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "mgr@example.com", "hunter2pass", identity.RoleUserManager, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodGet, "/admin/certificates", nil, token)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegisterAndRevokeCertificateAsAdmin(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "admin@example.com", "hunter2pass", identity.RoleAdmin, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodPost, "/admin/certificates",
		map[string]interface{}{"client_id": "client-9", "cert_fingerprint": "aa:bb:cc", "domain_tag": "prod", "valid_for_days": 30}, token)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, env.router, http.MethodPost, "/admin/certificates/client-9/revoke",
		map[string]string{"reason": "compromised"}, token)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestUserManagerCanCreateOperatorButNotSelfPromote(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "mgr@example.com", "hunter2pass", identity.RoleUserManager, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodPost, "/admin/users",
		map[string]interface{}{"email": "new@example.com", "password": "hunter2pass", "role": "USER"}, token)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, env.router, http.MethodPut, "/admin/users/"+op.ID+"/role",
		map[string]string{"role": "ADMIN"}, token)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRetentionPurgeRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.identity.CreateOperator(t.Context(), "mgr@example.com", "hunter2pass", identity.RoleUserManager, nil)
	require.NoError(t, err)
	token, err := env.issuer.IssueAccessToken(op)
	require.NoError(t, err)

	rr := doJSON(t, env.router, http.MethodPost, "/admin/retention/purge",
		map[string]int{"older_than_days": 30}, token)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
