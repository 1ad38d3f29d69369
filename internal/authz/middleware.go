package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ipiton/message-broker/internal/identity"
)

type contextKey string

const claimsContextKey contextKey = "authz_claims"

// roleHierarchy mirrors the teacher's viewer/operator/admin levels,
// generalized to USER/USER_MANAGER/ADMIN (spec.md §4.7).
var roleHierarchy = map[identity.OperatorRole]int{
	identity.RoleUser:        1,
	identity.RoleUserManager: 2,
	identity.RoleAdmin:       3,
}

// hasRequiredRole reports whether userRole meets requiredRole's level.
func hasRequiredRole(userRole, requiredRole identity.OperatorRole) bool {
	userLevel, ok1 := roleHierarchy[userRole]
	requiredLevel, ok2 := roleHierarchy[requiredRole]
	return ok1 && ok2 && userLevel >= requiredLevel
}

// Middleware authenticates the "Authorization: Bearer <token>" header
// against a TokenIssuer and puts the resulting Claims in context. On
// failure it writes 401 and does not call next.
func Middleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(w, http.StatusUnauthorized, "expected Bearer token")
				return
			}

			claims, err := issuer.Verify(parts[1])
			if err != nil || claims.TokenType != tokenTypeAccess {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that 403s unless the authenticated
// operator's role meets requiredRole, per the hierarchy in §4.7.
func RequireRole(requiredRole identity.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !hasRequiredRole(claims.Role, requiredRole) {
				writeAuthError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole returns middleware that 403s unless the authenticated
// operator's role exactly matches one of allowed. Use this instead of
// RequireRole when a role is excluded despite outranking another in
// the hierarchy (spec.md §4.7: USER_MANAGER may not view messages,
// even though it outranks USER).
func RequireAnyRole(allowed ...identity.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			for _, role := range allowed {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

// FromContext extracts the operator Claims a prior Middleware call put
// in the request context.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     http.StatusText(status),
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
