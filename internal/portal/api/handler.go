package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ipiton/message-broker/internal/authz"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, portalError{Error: code, Message: message, Timestamp: time.Now()})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// ServeLogin handles POST /portal/auth/login.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	op, err := h.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid email or password")
		return
	}

	access, err := h.issuer.IssueAccessToken(op)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue access token")
		return
	}
	refresh, err := h.issuer.IssueRefreshToken(op)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ServeRefresh handles POST /portal/auth/refresh. It re-checks that
// the operator is still active, since a long-lived refresh token must
// not outlive an account deactivation.
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	claims, err := h.issuer.VerifyRefresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid or expired refresh token")
		return
	}

	op, err := h.identity.GetOperator(r.Context(), claims.OperatorID)
	if err != nil || !op.Active {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "operator no longer active")
		return
	}

	access, err := h.issuer.IssueAccessToken(op)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue access token")
		return
	}
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: access, TokenType: "Bearer"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ServeForgotPassword handles POST /portal/auth/forgot-password. It
// always returns 200 regardless of whether the email resolves to an
// operator, to defend against account enumeration (identity.Service's
// IssueResetTicket already encodes this); sending the reset email
// itself is outside this design (spec.md's explicit non-goals).
func (h *Handler) ServeForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	if _, err := h.identity.IssueResetTicket(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to process request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ServeResetPassword handles POST /portal/auth/reset-password.
func (h *Handler) ServeResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	if err := h.identity.RedeemResetTicket(r.Context(), req.Token, req.NewPassword); err != nil {
		var invalid *identity.ErrResetTicketInvalid
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "reset token is invalid or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to reset password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type profileResponse struct {
	ID            string                `json:"id"`
	Email         string                `json:"email"`
	Role          identity.OperatorRole `json:"role"`
	BoundClientID *string               `json:"bound_client_id,omitempty"`
	LastLoginAt   *time.Time            `json:"last_login_at,omitempty"`
}

// ServeProfile handles GET /portal/profile.
func (h *Handler) ServeProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.FromContext(r.Context())

	op, err := h.identity.GetOperator(r.Context(), claims.OperatorID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "operator not found")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		ID: op.ID, Email: op.Email, Role: op.Role,
		BoundClientID: op.BoundClientID, LastLoginAt: op.LastLoginAt,
	})
}

type messageView struct {
	MessageID   string          `json:"message_id"`
	ClientID    string          `json:"client_id"`
	Status      registry.Status `json:"status"`
	Retryable   bool            `json:"retryable"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// ServeMessages handles GET /portal/messages: a USER bound to a
// client sees only that client's messages, an unbound USER sees none,
// and ADMIN sees every message (spec.md §4.7). USER_MANAGER never
// reaches this handler (excluded at the router by RequireAnyRole).
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.FromContext(r.Context())

	var filter registry.ListFilter
	filter.Limit = 100
	if claims.Role == identity.RoleUser {
		if claims.BoundClientID == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"messages": []messageView{}})
			return
		}
		clientID := claims.BoundClientID
		filter.ClientID = &clientID
	}

	messages, err := h.registry.ListMessages(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list messages")
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			MessageID:   m.MessageID,
			ClientID:    m.ClientID,
			Status:      m.Status,
			Retryable:   m.Status == registry.StatusQueued || m.Status == registry.StatusProcessing,
			CreatedAt:   m.CreatedAt,
			DeliveredAt: m.DeliveredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

type messageDetailView struct {
	MessageID   string          `json:"message_id"`
	ClientID    string          `json:"client_id"`
	Status      registry.Status `json:"status"`
	Body        string          `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// ServeMessageDetail handles GET /admin/messages/{message_id}
// (ADMIN only): spec.md §4.7's "ADMIN: full access; may additionally
// decrypt message bodies". Decryption uses the body's own stored key
// version, with crypto.Manager.Decrypt's version-fallback covering
// bodies encrypted under a since-rotated-away key.
func (h *Handler) ServeMessageDetail(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["message_id"]

	m, err := h.registry.GetMessage(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such message")
		return
	}

	body, err := h.crypto.Decrypt(m.BodyCiphertext, m.BodyKeyVersion)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DECRYPTION_FAILED", "failed to decrypt message body")
		return
	}

	writeJSON(w, http.StatusOK, messageDetailView{
		MessageID:   m.MessageID,
		ClientID:    m.ClientID,
		Status:      m.Status,
		Body:        body,
		CreatedAt:   m.CreatedAt,
		DeliveredAt: m.DeliveredAt,
	})
}

type createUserRequest struct {
	Email         string                `json:"email"`
	Password      string                `json:"password"`
	Role          identity.OperatorRole `json:"role"`
	BoundClientID *string               `json:"bound_client_id,omitempty"`
}

// ServeCreateUser handles POST /admin/users (USER_MANAGER+).
func (h *Handler) ServeCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	op, err := h.identity.CreateOperator(r.Context(), req.Email, req.Password, req.Role, req.BoundClientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create operator")
		return
	}
	writeJSON(w, http.StatusCreated, profileResponse{ID: op.ID, Email: op.Email, Role: op.Role, BoundClientID: op.BoundClientID})
}

type updateRoleRequest struct {
	Role identity.OperatorRole `json:"role"`
}

// ServeUpdateUserRole handles PUT /admin/users/{operator_id}/role.
func (h *Handler) ServeUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.FromContext(r.Context())
	operatorID := mux.Vars(r)["operator_id"]

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	if err := h.identity.UpdateOperatorRole(r.Context(), claims.OperatorID, operatorID, req.Role); err != nil {
		var selfChange *identity.ErrSelfStatusChange
		if errors.As(err, &selfChange) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "operators may not change their own role")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateStatusRequest struct {
	Active bool `json:"active"`
}

// ServeUpdateUserStatus handles PUT /admin/users/{operator_id}/status.
func (h *Handler) ServeUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.FromContext(r.Context())
	operatorID := mux.Vars(r)["operator_id"]

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	if err := h.identity.UpdateOperatorStatus(r.Context(), claims.OperatorID, operatorID, req.Active); err != nil {
		var selfChange *identity.ErrSelfStatusChange
		if errors.As(err, &selfChange) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "operators may not change their own status")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeListCertificates handles GET /admin/certificates (ADMIN only).
func (h *Handler) ServeListCertificates(w http.ResponseWriter, r *http.Request) {
	clients, err := h.identity.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list certificates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": clients})
}

type registerCertificateRequest struct {
	ClientID        string `json:"client_id"`
	CertFingerprint string `json:"cert_fingerprint"`
	DomainTag       string `json:"domain_tag"`
	ValidForDays    int    `json:"valid_for_days"`
}

// ServeRegisterCertificate handles POST /admin/certificates (ADMIN only).
func (h *Handler) ServeRegisterCertificate(w http.ResponseWriter, r *http.Request) {
	var req registerCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	validFor := time.Duration(req.ValidForDays) * 24 * time.Hour
	if validFor <= 0 {
		validFor = 365 * 24 * time.Hour
	}

	client, err := h.identity.RegisterClient(r.Context(), req.ClientID, req.CertFingerprint, req.DomainTag, validFor)
	if err != nil {
		var exists *identity.ErrClientExists
		if errors.As(err, &exists) {
			writeError(w, http.StatusConflict, "CONFLICT", "client already has an active identity")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to register certificate")
		return
	}
	certificatesIssuedTotal.Inc()
	writeJSON(w, http.StatusCreated, client)
}

type revokeCertificateRequest struct {
	Reason string `json:"reason"`
}

// ServeRevokeCertificate handles POST /admin/certificates/{client_id}/revoke (ADMIN only).
func (h *Handler) ServeRevokeCertificate(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	var req revokeCertificateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.identity.RevokeClient(r.Context(), clientID, req.Reason); err != nil {
		var notFound *identity.ErrClientNotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "no such client")
			return
		}
		var alreadyRevoked *identity.ErrAlreadyRevoked
		if errors.As(err, &alreadyRevoked) {
			writeError(w, http.StatusConflict, "CONFLICT", "client is already revoked")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to revoke certificate")
		return
	}
	certificatesRevokedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeStatistics handles GET /admin/statistics (USER_MANAGER+).
func (h *Handler) ServeStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type retentionPurgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// ServeRetentionPurge handles POST /admin/retention/purge (ADMIN
// only): deletes DELIVERED messages older than the given window.
func (h *Handler) ServeRetentionPurge(w http.ResponseWriter, r *http.Request) {
	claims, _ := authz.FromContext(r.Context())

	var req retentionPurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	if req.OlderThanDays <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "older_than_days must be positive")
		return
	}

	purged, err := h.registry.PurgeDelivered(r.Context(), claims.OperatorID, time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to purge delivered messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
