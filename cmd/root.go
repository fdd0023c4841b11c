// Package cmd defines and implements the CLI commands for the dsa-harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildlead/dsa-harvester/internal/app"
	"github.com/buildlead/dsa-harvester/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsa-harvester",
		Short: "Harvests school construction projects from the DSA tracker site.",
		Long: `dsa-harvester walks the DSA project tracker county by county,
reconciles each application summary page into a canonical record, scores it
against configurable rules, and persists everything idempotently in sqlite.
It runs either as a long-lived HTTP service (serve) or as one-shot commands
(harvest, export).`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (defaults and HARVESTER_* env vars apply without one)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// buildApp loads configuration and wires the service container.
func buildApp() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
