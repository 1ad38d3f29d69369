// Command gateway runs the mTLS ingress endpoint (C5) that accepts
// message submissions, registers them with the Confirmation API (C3),
// and pushes them onto the Durable Work Queue (C4).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipiton/message-broker/internal/bootstrap"
	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/gateway"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/internal/registry"
	"github.com/ipiton/message-broker/pkg/logger"
)

const serviceName = "broker-gateway"

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
	log.Info("starting gateway", "service", serviceName, "version", cfg.App.Version)

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

	q, err := bootstrap.NewQueue(*cfg, log)
	if err != nil {
		log.Error("initialize queue", "error", err)
		os.Exit(1)
	}

	identitySvc := identity.NewService(stores.Identity, log)
	registrySvc := registry.NewService(stores.Registry, cryptoMgr, log)

	srv, err := gateway.NewServer(*cfg, identitySvc, registrySvc, q, log)
	if err != nil {
		log.Error("build gateway server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadConfigFromEnv()
}
