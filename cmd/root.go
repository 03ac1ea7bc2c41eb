// Package cmd contains the search-sync commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "search-sync",
	Short: "Keep search indexes in sync with the primary store",
	Long: `search-sync indexes records into a search engine as they change and
rebuilds whole indexes behind an alias without downtime.

Example usage:
  search-sync serve               # Run workers, event consumer and HTTP API
  search-sync reindex article     # Start a zero-downtime rebuild
  search-sync types               # List indexable record types`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string reported by the CLI.
func SetVersion(v string) {
	rootCmd.Version = v
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
