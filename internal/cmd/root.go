// Package cmd implements the tabstash CLI commands using Cobra.
// It provides commands for managing contexts (named groups of browser
// tabs), stashing whole windows, and running the daemon the companion
// extension connects to.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabstash/tabstash/internal/config"
	"github.com/tabstash/tabstash/internal/slogger"
)

// appConfig holds the loaded application configuration.
var appConfig *config.Config

// configLoader is used for reading and writing individual settings.
var configLoader *config.Loader

// verbosity counts -v flags; 0 warns, 1 informs, 2 debugs.
var verbosity int

var rootCmd = &cobra.Command{
	Use:   "tabstash",
	Short: "Manage browser tab contexts from the command line",
	Long: `Tabstash manages contexts: named groups of browser tabs that survive
being closed. A context lives as a tab-group while open and as a stored
record (plus an optional bookmark folder) while closed.

Live-state commands talk to the tabstash daemon ('tabstash serve'), which the
companion browser extension connects to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := slogger.New(slogger.Config{Verbosity: verbosity})

		// Store dependencies in context for subcommands
		ctx := cmd.Context()
		ctx = slogger.WithLogger(ctx, logger)
		ctx = WithConfig(ctx, appConfig)
		ctx = WithLoader(ctx, configLoader)
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
}

func initConfig() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		return
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config validation failed: %v\n", err)
	}

	appConfig = cfg
	configLoader = loader
}
