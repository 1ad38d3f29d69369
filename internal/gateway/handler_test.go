package gateway_test

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/crypto"
	"github.com/ipiton/message-broker/internal/gateway"
	"github.com/ipiton/message-broker/internal/identity"
	idmemory "github.com/ipiton/message-broker/internal/identity/memory"
	"github.com/ipiton/message-broker/internal/queue"
	qmemory "github.com/ipiton/message-broker/internal/queue/memory"
	"github.com/ipiton/message-broker/internal/registry"
	regmemory "github.com/ipiton/message-broker/internal/registry/memory"
)

func newTestHandler(t *testing.T) (*gateway.Handler, *identity.Service, queue.Queue) {
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
	q := qmemory.New()

	tlsCfg := config.TLSConfig{RequireClientCert: true}
	rateCfg := config.RateLimitConfig{WindowSeconds: 60, RequestsPerWindow: 100}

	h := gateway.NewHandler(identitySvc, registrySvc, q, tlsCfg, rateCfg, logger)
	return h, identitySvc, q
}

func withPeerCN(r *http.Request, cn string) *http.Request {
	r.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{
			{Subject: pkix.Name{CommonName: cn}},
		},
	}
	return r
}

func TestServeSubmitMessageHappyPath(t *testing.T) {
	h, identitySvc, q := newTestHandler(t)
	ctx := t.Context()

	_, err := identitySvc.RegisterClient(ctx, "client_alpha", "fp-alpha", "domain-a", 24*time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"sender_number": "+491521234567",
		"message_body":  "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	req = withPeerCN(req, "client_alpha")
	rec := httptest.NewRecorder()

	h.ServeSubmitMessage(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp["status"])
	require.Equal(t, "client_alpha", resp["client_id"])

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestServeSubmitMessageRejectsRevokedClient(t *testing.T) {
	h, identitySvc, _ := newTestHandler(t)
	ctx := t.Context()

	_, err := identitySvc.RegisterClient(ctx, "client_beta", "fp-beta", "domain-b", 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, identitySvc.RevokeClient(ctx, "client_beta", "compromised"))

	body, _ := json.Marshal(map[string]string{
		"sender_number": "+491521234567",
		"message_body":  "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	req = withPeerCN(req, "client_beta")
	rec := httptest.NewRecorder()

	h.ServeSubmitMessage(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeSubmitMessageRejectsMissingPeerCert(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{
		"sender_number": "+491521234567",
		"message_body":  "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeSubmitMessage(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeSubmitMessageRejectsInvalidSenderNumber(t *testing.T) {
	h, identitySvc, _ := newTestHandler(t)
	ctx := t.Context()

	_, err := identitySvc.RegisterClient(ctx, "client_alpha", "fp-alpha", "", 24*time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"sender_number": "0491521234567",
		"message_body":  "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(body))
	req = withPeerCN(req, "client_alpha")
	rec := httptest.NewRecorder()

	h.ServeSubmitMessage(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHealthReportsHealthy(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
