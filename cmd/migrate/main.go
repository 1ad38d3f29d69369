// Command migrate applies, rolls back, and inspects the message
// broker's PostgreSQL schema migrations.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/database"
	"github.com/ipiton/message-broker/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply and inspect message-broker database migrations",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults to env vars)")

	root.AddCommand(upCmd(), downCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromEnv()
}

func loadDSN() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Database.IsSQLite() {
		return "", fmt.Errorf("migrate: database.driver is sqlite, migrations only apply to the postgres backend")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host,
		cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
	return dsn, nil
}

func newLogger() *slog.Logger {
	return logger.NewLogger(logger.Config{Level: "info", Format: "text", Output: "stdout"})
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			return database.RunMigrations(cmd.Context(), dsn, newLogger())
		},
	}
}

func downCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last N migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			return database.RunMigrationsDown(cmd.Context(), dsn, steps, newLogger())
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := loadDSN()
			if err != nil {
				return err
			}
			return database.MigrationStatus(cmd.Context(), dsn, newLogger())
		},
	}
}
