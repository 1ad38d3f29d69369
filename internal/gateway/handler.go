package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/queue"
	"github.com/ipiton/message-broker/internal/registry"
)

// Handler serves the client-facing submission endpoint and health/
// metrics probes (§4.5, §6).
type Handler struct {
	identity *identity.Service
	registry *registry.Service
	queue    queue.Queue
	tlsCfg   config.TLSConfig
	rateCfg  config.RateLimitConfig
	logger   *slog.Logger
	limiter  *clientRateLimiter
}

// NewHandler constructs a Handler wired to the Identity Store (C2), the
// Message Registry (C3), and the Durable Work Queue (C4).
func NewHandler(identitySvc *identity.Service, registrySvc *registry.Service, q queue.Queue, tlsCfg config.TLSConfig, rateCfg config.RateLimitConfig, logger *slog.Logger) *Handler {
	return &Handler{
		identity: identitySvc,
		registry: registrySvc,
		queue:    q,
		tlsCfg:   tlsCfg,
		rateCfg:  rateCfg,
		logger:   logger,
		limiter:  newClientRateLimiter(rateCfg.RequestsPerWindow, rateCfg.WindowSeconds),
	}
}

type submitMessageRequest struct {
	SenderNumber string                 `json:"sender_number" validate:"required,e164"`
	MessageBody  string                 `json:"message_body" validate:"required"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type submitMessageResponse struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	QueuedAt  time.Time `json:"queued_at"`
}

type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message, Timestamp: time.Now()})
}

// ServeSubmitMessage handles POST /api/v1/messages.
func (h *Handler) ServeSubmitMessage(w http.ResponseWriter, r *http.Request) {
	clientID, viaDevBypass, err := extractClientID(r, h.tlsCfg)
	if err != nil {
		h.registry.Audit(r.Context(), "auth_failed", nil, nil, registry.SeverityWarning, map[string]any{"reason": err.Error()})
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "mutual TLS client certificate required")
		return
	}

	client, err := h.identity.LookupClient(r.Context(), clientID)
	if err != nil || client.EffectiveStatus(time.Now()) != identity.ClientActive {
		h.registry.Audit(r.Context(), "auth_failed", nil, &clientID, registry.SeverityWarning, map[string]any{"reason": "client not active"})
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "client is not active")
		return
	}

	if viaDevBypass {
		h.registry.Audit(r.Context(), "dev_bypass_used", nil, &clientID, registry.SeverityWarning, map[string]any{
			"path": r.URL.Path,
		})
	}

	if !h.limiter.allow(clientID) {
		writeError(w, http.StatusTooManyRequests, "TooManyRequests", "rate limit exceeded")
		return
	}

	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
		return
	}

	if err := validateSubmitRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	body, err := validateMessageBody(req.MessageBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	messageID := uuid.New().String()
	now := time.Now()

	// Register first (C3), then enqueue (C4) — see DESIGN.md Open
	// Question 4: a registered-but-unqueued row is recoverable by the
	// reconciliation sweep; the reverse ordering is not.
	if _, err := h.registry.Register(r.Context(), registry.RegisterInput{
		MessageID:     messageID,
		ClientID:      clientID,
		SenderNumber:  req.SenderNumber,
		PlaintextBody: body,
		QueuedAt:      now,
		DomainTag:     client.DomainTag,
	}); err != nil {
		h.logger.Error("message registration failed", "message_id", messageID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not register message")
		return
	}

	item := &queue.WorkItem{
		MessageID:    messageID,
		ClientID:     clientID,
		SenderNumber: req.SenderNumber,
		Body:         body,
		DomainTag:    client.DomainTag,
		QueuedAt:     now,
		AttemptCount: 0,
	}
	if err := h.queue.Push(r.Context(), item); err != nil {
		// The row in C3 is already durable; the reconciliation sweep
		// will enqueue it. The caller's submission still succeeded.
		h.logger.Warn("enqueue failed after registration, deferring to reconciliation sweep",
			"message_id", messageID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitMessageResponse{
		MessageID: messageID,
		Status:    "queued",
		ClientID:  clientID,
		QueuedAt:  now,
	})
}

// healthComponent reports whether a dependency is reachable.
type healthComponent struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]healthComponent `json:"components"`
}

// ServeHealth handles GET /health, reporting the registry store and
// queue backend's reachability (§6).
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]healthComponent{}
	healthy := true

	if err := h.queue.Health(r.Context()); err != nil {
		components["queue"] = healthComponent{Status: "unhealthy"}
		healthy = false
	} else {
		components["queue"] = healthComponent{Status: "healthy"}
	}

	if _, err := h.registry.Stats(r.Context(), nil); err != nil {
		components["registry"] = healthComponent{Status: "unhealthy"}
		healthy = false
	} else {
		components["registry"] = healthComponent{Status: "healthy"}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(healthResponse{Status: overall, Components: components})
}
