/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roomhub/apiserver/config"
	"github.com/roomhub/apiserver/internal/db"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Parse()
		if err != nil {
			return err
		}
		if err := db.MigrateUp(cmd.Context(), cfg.Database); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		newLogger(cfg).WithField("driver", cfg.Database.Driver).Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Parse()
		if err != nil {
			return err
		}
		if err := db.MigrateDown(cmd.Context(), cfg.Database); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		newLogger(cfg).WithField("driver", cfg.Database.Driver).Info("migrations reverted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
