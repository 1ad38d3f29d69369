// Package api implements the operator portal API of spec.md §4.7/§6:
// login/refresh/password-recovery, a role-scoped message listing, the
// operator's own profile, and admin endpoints for users, certificates,
// statistics, and data retention. Grounded on the teacher's
// cmd/server/handlers and internal/api/router.go (gorilla/mux routing,
// middleware composition), with RBAC from internal/authz.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ipiton/message-broker/internal/authz"
	"github.com/ipiton/message-broker/internal/crypto"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/registry"
)

// Handler implements the portal/admin endpoints over the Identity
// Store and Message Registry services, authenticating operators via
// a TokenIssuer. The crypto Manager is only used by the ADMIN
// message-decrypt endpoint; every other handler stays at the
// ciphertext/metadata level.
type Handler struct {
	identity *identity.Service
	registry *registry.Service
	crypto   *crypto.Manager
	issuer   *authz.TokenIssuer
}

// NewHandler constructs a Handler.
func NewHandler(identitySvc *identity.Service, registrySvc *registry.Service, cryptoMgr *crypto.Manager, issuer *authz.TokenIssuer) *Handler {
	return &Handler{identity: identitySvc, registry: registrySvc, crypto: cryptoMgr, issuer: issuer}
}

// NewRouter builds the portal/admin mux.Router. Unauthenticated routes
// (login, refresh, forgot/reset password) are registered directly;
// everything else is wrapped in authz.Middleware plus a role check.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/portal/auth/login", h.ServeLogin).Methods(http.MethodPost)
	router.HandleFunc("/portal/auth/refresh", h.ServeRefresh).Methods(http.MethodPost)
	router.HandleFunc("/portal/auth/forgot-password", h.ServeForgotPassword).Methods(http.MethodPost)
	router.HandleFunc("/portal/auth/reset-password", h.ServeResetPassword).Methods(http.MethodPost)

	authenticated := authz.Middleware(h.issuer)

	router.Handle("/portal/profile", authenticated(http.HandlerFunc(h.ServeProfile))).Methods(http.MethodGet)

	viewMessages := authenticated(authz.RequireAnyRole(identity.RoleUser, identity.RoleAdmin)(
		http.HandlerFunc(h.ServeMessages)))
	router.Handle("/portal/messages", viewMessages).Methods(http.MethodGet)

	adminOnly := authenticated(authz.RequireRole(identity.RoleAdmin))
	router.Handle("/admin/messages/{message_id}", adminOnly(http.HandlerFunc(h.ServeMessageDetail))).Methods(http.MethodGet)

	manageUsers := authenticated(authz.RequireRole(identity.RoleUserManager)(http.HandlerFunc(h.ServeCreateUser)))
	router.Handle("/admin/users", manageUsers).Methods(http.MethodPost)
	router.Handle("/admin/users/{operator_id}/role", authenticated(authz.RequireRole(identity.RoleUserManager)(http.HandlerFunc(h.ServeUpdateUserRole)))).Methods(http.MethodPut)
	router.Handle("/admin/users/{operator_id}/status", authenticated(authz.RequireRole(identity.RoleUserManager)(http.HandlerFunc(h.ServeUpdateUserStatus)))).Methods(http.MethodPut)

	router.Handle("/admin/certificates", adminOnly(http.HandlerFunc(h.ServeListCertificates))).Methods(http.MethodGet)
	router.Handle("/admin/certificates", adminOnly(http.HandlerFunc(h.ServeRegisterCertificate))).Methods(http.MethodPost)
	router.Handle("/admin/certificates/{client_id}/revoke", adminOnly(http.HandlerFunc(h.ServeRevokeCertificate))).Methods(http.MethodPost)
	router.Handle("/admin/statistics", authenticated(authz.RequireRole(identity.RoleUserManager)(http.HandlerFunc(h.ServeStatistics)))).Methods(http.MethodGet)
	router.Handle("/admin/retention/purge", adminOnly(http.HandlerFunc(h.ServeRetentionPurge))).Methods(http.MethodPost)

	return router
}

type portalError struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
