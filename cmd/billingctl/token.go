package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dukerupert/memberhub/internal"
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/middleware"
)

func tokenCmd() *cobra.Command {
	var (
		tenant string
		user   string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long: `Mint a bearer token signed with JWT_SECRET. Refused when ENV=prod.

Example:
  billingctl token --tenant 3f6c... --role owner`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return err
			}
			if cfg.Env == "prod" {
				return fmt.Errorf("token minting is disabled in production")
			}

			token, err := mintToken(cfg.Auth, tenant, user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&user, "user", "", "user ID (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleOwner), "owner, admin or member")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func mintToken(auth internal.AuthConfig, tenant, user, role string, ttl time.Duration) (string, error) {
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return "", fmt.Errorf("invalid tenant id %q: %w", tenant, err)
	}
	userID := uuid.New()
	if user != "" {
		if userID, err = uuid.Parse(user); err != nil {
			return "", fmt.Errorf("invalid user id %q: %w", user, err)
		}
	}
	switch domain.Role(role) {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleMember:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	authenticator, err := middleware.NewAuthenticator([]byte(auth.JWTSecret), auth.Issuer)
	if err != nil {
		return "", err
	}
	return authenticator.Sign(domain.Identity{TenantID: tenantID, UserID: userID, Role: domain.Role(role)}, ttl)
}
