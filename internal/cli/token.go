package cli

import (
	"fmt"
	"time"

	"vhlr/internal/auth"
	"vhlr/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd(d deps) *cobra.Command {
	var (
		clientID string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q (want %s, %s or %s)", role, rbac.RoleClient, rbac.RoleOperator, rbac.RoleAdmin)
			}
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), clientID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client id carried by the token")
	cmd.Flags().StringVar(&role, "role", rbac.RoleClient, "Role: client, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
