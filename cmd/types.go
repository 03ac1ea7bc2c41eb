package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"search-sync/bootstrap"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List indexable record types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types := bootstrap.NewRegistry().Types()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tINDEX\tFIELDS")
		for _, rt := range types {
			fmt.Fprintf(w, "%s\t%s\t%d\n", rt.Name, rt.Index, len(rt.Mapping.Fields))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)
}
