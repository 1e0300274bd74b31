package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/aditya/ridelink/internal/database"
	"github.com/aditya/ridelink/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		return runMigrate(steps)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps <= 0 {
			return errors.New("--steps must be positive when rolling back")
		}
		return runMigrate(-steps)
	},
}

func init() {
	migrateUpCmd.Flags().Int("steps", 0, "number of migrations to apply (0 applies all)")
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigrate(steps int) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	return database.Migrate(cfg.DatabaseURL, steps, logging.WithComponent(logger, "migrate"))
}
