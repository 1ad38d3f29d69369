package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/ipiton/message-broker/internal/config"
)

// devClientIDHeader is the trusted header honored only when
// TLSConfig.DevHeaderBypass is set, per spec.md §4.5/§9.
const devClientIDHeader = "X-Client-ID"

// BuildTLSConfig assembles a server-side mutual TLS configuration: the
// server's own certificate plus a client CA pool used to demand and
// verify peer certificates. There is no library in the example pack
// that performs server-side mTLS setup — crypto/tls and crypto/x509
// are the idiomatic stdlib surface for this and are used directly
// (see DESIGN.md).
func BuildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ServerCertPath, cfg.ServerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("gateway: load server certificate: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("gateway: read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("gateway: CA certificate file contains no valid certificates")
	}

	clientAuth := tls.RequireAndVerifyClientCert
	if !cfg.RequireClientCert {
		clientAuth = tls.VerifyClientCertIfGiven
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// extractClientID obtains the caller's client_id from the verified peer
// certificate's Common Name, or from the dev bypass header when
// TLSConfig.DevHeaderBypass is enabled and RequireClientCert is off.
// Returns ErrUnauthenticated when neither source is available.
func extractClientID(r *http.Request, cfg config.TLSConfig) (clientID string, viaDevBypass bool, err error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		cn := r.TLS.PeerCertificates[0].Subject.CommonName
		if cn != "" {
			return cn, false, nil
		}
	}

	if cfg.DevHeaderBypass && !cfg.RequireClientCert {
		if header := r.Header.Get(devClientIDHeader); header != "" {
			return header, true, nil
		}
	}

	return "", false, ErrUnauthenticated
}

type contextKey string

const clientIDContextKey contextKey = "gateway_client_id"

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// ClientIDFromContext returns the client_id stored in ctx by
// withClientID, or "" if absent. The gateway's request path does not
// currently store one, so for its requests this returns "".
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey).(string)
	return id
}
