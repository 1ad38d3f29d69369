// Command worker runs the Delivery Worker Pool (C6): it pops messages
// off the Durable Work Queue (C4), delivers them, and reports outcomes
// back to the Confirmation API (C3/C7), either in-process or over
// HTTP depending on registry.url.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipiton/message-broker/internal/bootstrap"
	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/registry"
	"github.com/ipiton/message-broker/internal/registryclient"
	"github.com/ipiton/message-broker/internal/worker"
	"github.com/ipiton/message-broker/pkg/logger"
)

const serviceName = "broker-worker"

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
	log.Info("starting worker", "service", serviceName, "worker_id", cfg.Worker.WorkerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := bootstrap.NewQueue(*cfg, log)
	if err != nil {
		log.Error("initialize queue", "error", err)
		os.Exit(1)
	}

	deliverer, cleanup, err := buildDeliverer(ctx, *cfg, log)
	if err != nil {
		log.Error("initialize confirmation-api client", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	pool := worker.New(cfg.Worker, q, deliverer, log)
	pool.Run(ctx)

	log.Info("worker stopped")
}

// buildDeliverer wires the worker to the Confirmation API. When
// registry.url is set, it talks over HTTP via registryclient, for
// deployments where the registry runs as its own process (cmd/registry).
// Otherwise it opens its own store and runs the registry service
// in-process, for single-binary/dev deployments.
func buildDeliverer(ctx context.Context, cfg config.Config, log *slog.Logger) (worker.Deliverer, func(), error) {
	if cfg.Registry.URL != "" {
		return registryclient.New(cfg.Registry), nil, nil
	}

	stores, err := bootstrap.NewStores(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open registry store: %w", err)
	}

	cryptoMgr, err := bootstrap.NewCryptoManager(cfg.Crypto)
	if err != nil {
		stores.Close()
		return nil, nil, fmt.Errorf("load crypto manager: %w", err)
	}

	svc := registry.NewService(stores.Registry, cryptoMgr, log)
	return svc, func() { stores.Close() }, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadConfigFromEnv()
}
