package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisalpuerto/parallel-sessions/pkg/config"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/ipc"
)

func newTokenCmd() *cobra.Command {
	var (
		operator string
		ttl      time.Duration
		secret   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				secret = cfg.Server.AuthSecret
			}
			if strings.TrimSpace(secret) == "" {
				return withExitCode(apperrors.New(apperrors.ErrCodeConfigInvalid, "no auth secret configured").
					WithRemediation("set server.auth_secret or PARALLEL_SESSIONS_AUTH_SECRET, or pass --secret"), exitConfig)
			}
			if len(secret) < config.MinAuthSecretLength {
				return withExitCode(apperrors.Newf(apperrors.ErrCodeConfigInvalid,
					"auth secret must be at least %d characters", config.MinAuthSecretLength), exitConfig)
			}
			if strings.TrimSpace(operator) == "" {
				return errors.New("--operator must not be empty")
			}
			if ttl < 0 {
				return errors.New("--ttl must not be negative")
			}

			token, err := ipc.NewTokenManager(secret).GenerateToken(operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "Operator name recorded in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 never expires")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to server.auth_secret)")
	return cmd
}
