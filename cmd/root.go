// Package cmd defines and implements the CLI commands for the filmatlas
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filmatlas",
		Short: "Filming-location discovery and enrichment for the FilmAtlas catalog.",
		Long: `filmatlas builds the FilmAtlas location catalog. It resolves title
ids against the metadata provider, scrapes filming locations from each
title's locations page, geocodes them, and merges the results into the
persisted catalog consumed by the map layer.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches FILMATLAS_* env vars)")

	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
