// Command brokerctl is the administrative CLI for the message broker:
// client registration/revocation and operator account management,
// operating directly on the identity/registry stores.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipiton/message-broker/internal/bootstrap"
	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/identity"
	"github.com/ipiton/message-broker/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "brokerctl",
		Short: "Administer message-broker clients and operators",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults to env vars)")

	clientCmd := &cobra.Command{Use: "client", Short: "Manage client identities"}
	clientCmd.AddCommand(clientRegisterCmd(), clientRevokeCmd(), clientListCmd())

	operatorCmd := &cobra.Command{Use: "operator", Short: "Manage operator accounts"}
	operatorCmd.AddCommand(operatorCreateCmd())

	root.AddCommand(clientCmd, operatorCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withIdentityService(fn func(ctx context.Context, svc *identity.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.NewLogger(logger.Config{Level: "warn", Format: "text", Output: "stdout"})
	ctx := context.Background()

	stores, err := bootstrap.NewStores(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer stores.Close()

	svc := identity.NewService(stores.Identity, log)
	return fn(ctx, svc)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromEnv()
}

func clientRegisterCmd() *cobra.Command {
	var fingerprint, domainTag string
	var validFor time.Duration

	cmd := &cobra.Command{
		Use:   "register CLIENT_ID",
		Short: "Register a new client identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := args[0]
			return withIdentityService(func(ctx context.Context, svc *identity.Service) error {
				c, err := svc.RegisterClient(ctx, clientID, fingerprint, domainTag, validFor)
				if err != nil {
					return err
				}
				fmt.Printf("registered client %s (expires %s)\n", c.ClientID, c.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fingerprint, "cert-fingerprint", "", "SHA-256 fingerprint of the client's leaf certificate")
	cmd.Flags().StringVar(&domainTag, "domain-tag", "", "routing/domain tag for the client")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "how long the client's certificate binding is valid")
	cmd.MarkFlagRequired("cert-fingerprint")
	return cmd
}

func clientRevokeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke CLIENT_ID",
		Short: "Revoke a client's certificate binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := args[0]
			return withIdentityService(func(ctx context.Context, svc *identity.Service) error {
				if err := svc.RevokeClient(ctx, clientID, reason); err != nil {
					return err
				}
				fmt.Printf("revoked client %s\n", clientID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentityService(func(ctx context.Context, svc *identity.Service) error {
				clients, err := svc.ListClients(ctx)
				if err != nil {
					return err
				}
				for _, c := range clients {
					fmt.Printf("%s\tdomain=%s\texpires_at=%s\tstatus=%s\n",
						c.ClientID, c.DomainTag, c.ExpiresAt.Format(time.RFC3339), c.EffectiveStatus(time.Now()))
				}
				return nil
			})
		},
	}
}

func operatorCreateCmd() *cobra.Command {
	var email, password, role, boundClientID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentityService(func(ctx context.Context, svc *identity.Service) error {
				var bound *string
				if boundClientID != "" {
					bound = &boundClientID
				}
				op, err := svc.CreateOperator(ctx, email, password, identity.OperatorRole(role), bound)
				if err != nil {
					return err
				}
				fmt.Printf("created operator %s (%s, role=%s)\n", op.ID, op.Email, op.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "operator email")
	cmd.Flags().StringVar(&password, "password", "", "operator password")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleUser), "operator role: USER, USER_MANAGER, or ADMIN")
	cmd.Flags().StringVar(&boundClientID, "bound-client-id", "", "restrict this operator to one client's messages")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}
