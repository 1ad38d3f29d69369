package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/queue"
	"github.com/ipiton/message-broker/internal/registry"
	"github.com/ipiton/message-broker/pkg/logger"
)

// Server wraps the net/http.Server for the ingress gateway, with
// mutual TLS termination and the background reconciliation sweep for
// registered-but-unqueued messages (DESIGN.md Open Question 4).
type Server struct {
	httpServer *http.Server
	handler    *Handler
	registry   *registry.Service
	queue      queue.Queue
	logger     *slog.Logger
	cfg        config.Config
}

// NewServer builds the router, TLS listener configuration, and the
// http.Server, grounded on the teacher's internal/api/router.go
// middleware ordering (RequestID -> Logging -> route handlers) and
// cmd/server/main.go's graceful shutdown shape. Request-ID tagging and
// request logging both come from pkg/logger.LoggingMiddleware rather
// than a gateway-local reimplementation.
func NewServer(cfg config.Config, identitySvc *identity.Service, registrySvc *registry.Service, q queue.Queue, log *slog.Logger) (*Server, error) {
	handler := NewHandler(identitySvc, registrySvc, q, cfg.TLS, cfg.RateLimit, log)

	router := mux.NewRouter()
	router.Use(logger.LoggingMiddleware(log))

	router.HandleFunc("/api/v1/messages", handler.ServeSubmitMessage).Methods(http.MethodPost)
	router.HandleFunc("/health", handler.ServeHealth).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	tlsConfig, err := BuildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("gateway: build tls config: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		TLSConfig:    tlsConfig,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		registry:   registrySvc,
		queue:      q,
		logger:     log,
		cfg:        cfg,
	}, nil
}

// Run starts the TLS listener and the reconciliation sweep, blocking
// until ctx is cancelled, then drains both within the configured
// graceful shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	s.handler.limiter.cleanup()
	go s.handler.limiter.runCleanupLoop(ctx)
	go s.runReconciliationSweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
		certFile := s.cfg.TLS.ServerCertPath
		keyFile := s.cfg.TLS.ServerKeyPath
		if err := s.httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// runReconciliationSweep periodically re-enqueues registry rows left
// QUEUED past a grace window, the recovery half of DESIGN.md's
// "register first, enqueue second" ordering decision. If the gateway
// crashes or the queue push fails after a successful register, the
// message is still durable in C3; this sweep is what eventually
// delivers it. It does not check whether the queue already holds an
// item for a row, so a message still waiting in the queue or in a
// worker retry is pushed again.
func (s *Server) runReconciliationSweep(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce lists QUEUED messages stuck longer than the grace window
// and re-pushes them to the queue. It is best-effort: a push failure
// is logged and retried on the next tick.
func (s *Server) sweepOnce(ctx context.Context) {
	const graceWindow = 2 * time.Minute

	queuedStatus := registry.StatusQueued
	messages, err := s.registry.ListMessages(ctx, registry.ListFilter{
		Status: &queuedStatus,
		Limit:  100,
	})
	if err != nil {
		s.logger.Warn("reconciliation sweep: list messages failed", "error", err)
		return
	}

	for _, msg := range messages {
		if time.Since(msg.QueuedAt) < graceWindow {
			continue
		}

		// Plaintext sender/body were not retained once registered; the
		// worker's Deliver call derives final status directly from C3,
		// so the sweep only needs to place a marker item the worker can
		// resolve. The worker treats any item it cannot find a match
		// for via Deliver as NotFound and discards it, so re-pushing a
		// minimal item with the known fields is sufficient for the
		// queue to stay a pure performance buffer over C3's truth.
		item := &queue.WorkItem{
			MessageID:    msg.MessageID,
			ClientID:     msg.ClientID,
			DomainTag:    msg.DomainTag,
			QueuedAt:     msg.QueuedAt,
			AttemptCount: msg.AttemptCount,
		}
		if err := s.queue.Push(ctx, item); err != nil {
			s.logger.Warn("reconciliation sweep: re-enqueue failed", "message_id", msg.MessageID, "error", err)
			continue
		}
		s.logger.Info("reconciliation sweep: re-enqueued stuck message", "message_id", msg.MessageID)
	}
}
