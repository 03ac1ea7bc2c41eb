package cmd

import (
	"github.com/spf13/cobra"

	"search-sync/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run queue workers, the event consumer and the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return bootstrap.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
