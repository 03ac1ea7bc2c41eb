package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"search-sync/bootstrap"
	"search-sync/internal/auth"
)

var (
	tokenCaller      string
	tokenPermissions []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token for the admin API",
	Long: `token signs a service token with SERVICE_SECRET. Send it in the
X-Service-Token header when calling POST /v1/admin/reindex/:type.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range tokenPermissions {
			if p != auth.PermissionReindex && p != auth.PermissionSearch {
				return fmt.Errorf("unknown permission %q", p)
			}
		}
		token, err := bootstrap.IssueServiceToken(tokenCaller, tokenPermissions...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCaller, "caller", "operator", "subject recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenPermissions, "permission", []string{auth.PermissionReindex}, "permissions to grant")
	rootCmd.AddCommand(tokenCmd)
}
