// Package api exposes the Confirmation API (C7): internal HTTP
// endpoints the gateway (C5) and worker (C6) use to register, confirm
// delivery of, and update the status of messages in the Message
// Registry (C3). Grounded on the teacher's cmd/server/handlers and
// internal/api/router.go (gorilla/mux, middleware ordering).
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ipiton/message-broker/internal/registry"
)

// Handler implements the C7 internal endpoints over a registry.Service.
type Handler struct {
	service *registry.Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *registry.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// NewRouter builds the C7 mux.Router. Callers terminate mutual TLS in
// front of this router using certificates issued to proxy/worker
// identities (spec.md §6); this package only implements the handlers.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/internal/messages/register", h.ServeRegister).Methods(http.MethodPost)
	router.HandleFunc("/internal/messages/deliver", h.ServeDeliver).Methods(http.MethodPost)
	router.HandleFunc("/internal/messages/{message_id}/status", h.ServeUpdateStatus).Methods(http.MethodPut)
	router.HandleFunc("/internal/messages", h.ServeListMessages).Methods(http.MethodGet)
	router.HandleFunc("/internal/stats", h.ServeStats).Methods(http.MethodGet)
	return router
}

type apiError struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: code, Message: message, Timestamp: time.Now()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type registerRequest struct {
	MessageID     string `json:"message_id"`
	ClientID      string `json:"client_id"`
	SenderNumber  string `json:"sender_number"`
	MessageBody   string `json:"message_body"`
	DomainTag     string `json:"domain_tag"`
	QueuedAt      time.Time `json:"queued_at"`
}

type registerResponse struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ServeRegister handles POST /internal/messages/register.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
		return
	}

	queuedAt := req.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}

	result, err := h.service.Register(r.Context(), registry.RegisterInput{
		MessageID:     req.MessageID,
		ClientID:      req.ClientID,
		SenderNumber:  req.SenderNumber,
		PlaintextBody: req.MessageBody,
		QueuedAt:      queuedAt,
		DomainTag:     req.DomainTag,
	})
	if err != nil {
		var dup *registry.ErrAlreadyRegistered
		if errors.As(err, &dup) {
			writeJSONError(w, http.StatusConflict, "AlreadyRegistered", err.Error())
			return
		}
		h.logger.Error("register failed", "message_id", req.MessageID, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not register message")
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:           result.ID,
		MessageID:    req.MessageID,
		RegisteredAt: result.RegisteredAt,
	})
}

type deliverRequest struct {
	MessageID string `json:"message_id"`
	WorkerID  string `json:"worker_id"`
}

type deliverResponse struct {
	MessageID   string     `json:"message_id"`
	DeliveredAt *time.Time `json:"delivered_at"`
}

// ServeDeliver handles POST /internal/messages/deliver. An
// already-delivered message is reported as success (200), per §4.3's
// at-most-one-confirmed-delivery invariant.
func (h *Handler) ServeDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
		return
	}

	deliveredAt, err := h.service.Deliver(r.Context(), req.MessageID, req.WorkerID)
	if err != nil {
		var notFound *registry.ErrMessageNotFound
		if errors.As(err, &notFound) {
			writeJSONError(w, http.StatusNotFound, "NotFound", err.Error())
			return
		}
		var invalid *registry.ErrInvalidTransition
		if errors.As(err, &invalid) {
			if invalid.AlreadyDelivered() {
				writeJSON(w, http.StatusOK, deliverResponse{MessageID: req.MessageID})
				return
			}
			writeJSONError(w, http.StatusConflict, "InvalidTransition", err.Error())
			return
		}
		h.logger.Error("deliver failed", "message_id", req.MessageID, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not confirm delivery")
		return
	}

	writeJSON(w, http.StatusOK, deliverResponse{MessageID: req.MessageID, DeliveredAt: deliveredAt})
}

type updateStatusRequest struct {
	Status       registry.Status `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	LastError    string          `json:"last_error"`
}

// ServeUpdateStatus handles PUT /internal/messages/{message_id}/status.
func (h *Handler) ServeUpdateStatus(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["message_id"]

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
		return
	}

	if err := h.service.UpdateStatus(r.Context(), messageID, req.Status, req.AttemptCount, req.LastError); err != nil {
		var notFound *registry.ErrMessageNotFound
		if errors.As(err, &notFound) {
			writeJSONError(w, http.StatusNotFound, "NotFound", err.Error())
			return
		}
		h.logger.Error("update status failed", "message_id", messageID, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not update status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "status": string(req.Status)})
}

// ServeListMessages handles GET /internal/messages, listing up to 50
// messages filtered by optional client_id and status query parameters.
func (h *Handler) ServeListMessages(w http.ResponseWriter, r *http.Request) {
	filter := registry.ListFilter{Limit: 50}

	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		filter.ClientID = &clientID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := registry.Status(status)
		filter.Status = &s
	}

	messages, err := h.service.ListMessages(r.Context(), filter)
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// ServeStats handles GET /internal/stats.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	var clientID *string
	if v := r.URL.Query().Get("client_id"); v != "" {
		clientID = &v
	}

	stats, err := h.service.Stats(r.Context(), clientID)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "RegistryUnavailable", "could not compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
