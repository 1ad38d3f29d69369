// Command registry runs the Confirmation API (C3/C7) as a standalone
// HTTP process: message registration, delivery confirmation, and
// status lookups, backed by its own identity/registry stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipiton/message-broker/internal/bootstrap"
	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/registry"
	registryapi "github.com/ipiton/message-broker/internal/registry/api"
	"github.com/ipiton/message-broker/pkg/logger"
)

const serviceName = "broker-registry"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to env vars)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: load config: %v\n", serviceName, err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	log.Info("starting registry", "service", serviceName, "version", cfg.App.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.NewStores(ctx, cfg.Database, log)
	if err != nil {
		log.Error("initialize storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	cryptoMgr, err := bootstrap.NewCryptoManager(cfg.Crypto)
	if err != nil {
		log.Error("initialize crypto manager", "error", err)
		os.Exit(1)
	}

	registrySvc := registry.NewService(stores.Registry, cryptoMgr, log)
	handler := registryapi.NewHandler(registrySvc, log)
	router := registryapi.NewRouter(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("registry listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("registry server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("registry shutdown error", "error", err)
		os.Exit(1)
	}
	log.Info("registry stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadConfigFromEnv()
}
