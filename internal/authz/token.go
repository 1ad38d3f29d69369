// Package authz implements the cross-cutting operator authorization
// layer of spec.md §4.7: bearer-token issuance/verification and RBAC
// middleware for the portal API. Grounded on the teacher's
// internal/api/middleware/auth.go, which left JWT validation as a TODO
// stub (validateJWT) and a role-hierarchy RBACMiddleware this package
// generalizes from (viewer/operator/admin) to (USER/USER_MANAGER/ADMIN).
package authz

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ipiton/message-broker/internal/identity"
)

// ErrInvalidToken is returned by Verify for any malformed, expired, or
// badly-signed token. Callers must not branch on a more specific reason.
var ErrInvalidToken = errors.New("authz: invalid or expired token")

// Claims is the JWT payload for an operator access or refresh token.
type Claims struct {
	OperatorID    string                `json:"sub_id"`
	Role          identity.OperatorRole `json:"role"`
	BoundClientID string                `json:"client_id,omitempty"`
	TokenType     string                `json:"token_type"`
	jwt.RegisteredClaims
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenIssuer signs and verifies operator bearer tokens with an HMAC
// secret, per spec.md §4.7 ("signed, expiring, refreshable").
type TokenIssuer struct {
	secret          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewTokenIssuer constructs a TokenIssuer. ttl values default to the
// spec.md §6 defaults (24h access, 30d refresh) when zero.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL == 0 {
		accessTTL = 24 * time.Hour
	}
	if refreshTTL == 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), accessTokenTTL: accessTTL, refreshTokenTTL: refreshTTL}
}

// IssueAccessToken signs a short-lived access token carrying the
// operator's role and (if bound) client scope.
func (i *TokenIssuer) IssueAccessToken(op *identity.Operator) (string, error) {
	return i.issue(op, tokenTypeAccess, i.accessTokenTTL)
}

// IssueRefreshToken signs a long-lived refresh token. Refresh tokens
// carry role/client scope too so Refresh can reissue an access token
// without a store round-trip, but a Refresh call should still confirm
// the operator is still active before doing so (handled by the caller).
func (i *TokenIssuer) IssueRefreshToken(op *identity.Operator) (string, error) {
	return i.issue(op, tokenTypeRefresh, i.refreshTokenTTL)
}

func (i *TokenIssuer) issue(op *identity.Operator, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	boundClientID := ""
	if op.BoundClientID != nil {
		boundClientID = *op.BoundClientID
	}

	claims := Claims{
		OperatorID:    op.ID,
		Role:          op.Role,
		BoundClientID: boundClientID,
		TokenType:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a token, returning its claims. It does
// not distinguish access from refresh tokens; callers that only accept
// one kind (e.g. the refresh endpoint) must check Claims.TokenType.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh verifies a token and additionally requires it to be a
// refresh token, per §4.7's refresh endpoint.
func (i *TokenIssuer) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
