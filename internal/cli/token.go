package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/absens/internal/auth"
)

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with API bearer tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue [user-id]",
		Short: "Issue a signed bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleName, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return fmt.Errorf("%w\nValid roles: reporter, authority, admin", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			tok, err := tokens.Issue(auth.Identity{UserID: args[0], Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringP("role", "r", "reporter", "role to embed (reporter, authority, admin)")
	cmd.Flags().Duration("ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return cmd
}
