package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aditya/ridelink/internal/identity"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetString("uid")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		if uid == "" {
			return errors.New("--uid is required")
		}

		cfg, logger, err := load()
		if err != nil {
			return err
		}
		secret := cfg.JWTSecret
		if secret == "" {
			logger.Warn().Msg("JWT_SECRET not set, signing with the development secret")
			secret = devJWTSecret
		}

		token, err := identity.NewJWTProvider(secret, cfg.JWTTTL).Issue(identity.User{
			ID:    uid,
			Name:  name,
			Email: email,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("uid", "", "user id")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().String("email", "", "email address")
}
