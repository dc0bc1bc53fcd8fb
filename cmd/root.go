/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roomhub/apiserver/config"
	"github.com/roomhub/apiserver/internal/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomhub",
	Short: "Accounts and rooms API server",
	Long: `roomhub serves the accounts and rooms API, runs its database
migrations and inspects the domain events it publishes.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}
