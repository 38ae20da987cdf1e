package main

import (
	"errors"
	"fmt"

	"rillcast/internal/core/services"
	"rillcast/pkg/validation"

	"github.com/spf13/cobra"
)

var (
	tokenOperator string
	tokenRole     string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is empty")
		}
		if err := validation.ValidateOperator(tokenOperator); err != nil {
			return err
		}

		role := services.Role(tokenRole)
		if role != services.RoleOperator && role != services.RoleObserver {
			return fmt.Errorf("role must be %q or %q", services.RoleOperator, services.RoleObserver)
		}

		token, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(tokenOperator, role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name embedded in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(services.RoleOperator), "operator or observer")
	_ = tokenCmd.MarkFlagRequired("operator")
}
