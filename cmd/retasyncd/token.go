package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/internal/httpapi"
)

func newTokenCommand() *cobra.Command {
	var (
		identity string
		admin    bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with http.auth_token",
		Long: `Mint an HS256 bearer token for the local HTTP API. The token carries the
caller identity checked against the allow/deny lists; --admin additionally
grants access to node configuration and ACL changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return errors.New("http.auth_token is not set; authentication is disabled")
			}

			token, expiresAt, err := httpapi.NewJWTAuth(cfg.HTTP.AuthToken).GenerateToken(identity, admin, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Caller identity hash (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin rights")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	if err := cmd.MarkFlagRequired("identity"); err != nil {
		panic(fmt.Sprintf("Failed to mark identity as required: %v", err))
	}

	return cmd
}
