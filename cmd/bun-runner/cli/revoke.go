package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var revokeFlags capabilityFlags

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a capability from a running bun-runner",
	Long: `Revoke a previously granted capability. The capability must match the
grant exactly, including its description.`,
}

var revokeHTTPCmd = &cobra.Command{
	Use:   "http <host> [pathPattern]",
	Short: "Revoke HTTP access to a host",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pathPattern := ""
		if len(args) == 2 {
			pathPattern = args[1]
		}
		return sendRevoke(revokeFlags.httpCapability(args[0], pathPattern))
	},
}

var revokeFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Revoke file access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRevoke(revokeFlags.fileCapability(args[0]))
	},
}

var revokeEnvCmd = &cobra.Command{
	Use:   "env <pattern>...",
	Short: "Revoke environment variable reads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRevoke(revokeFlags.envCapability(args))
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.AddCommand(revokeHTTPCmd, revokeFileCmd, revokeEnvCmd)

	revokeCmd.PersistentFlags().StringVarP(&revokeFlags.description, "description", "d", "granted from the command line", "description the grant was made with")
	revokeHTTPCmd.Flags().StringSliceVar(&revokeFlags.methods, "methods", nil, "HTTP methods the grant was made with")
	revokeFileCmd.Flags().StringSliceVar(&revokeFlags.operations, "operations", []string{"read"}, "file operations the grant was made with")
}

func sendRevoke(c permission.Capability) error {
	var out struct {
		Removed bool `json:"removed"`
	}
	if err := proxyPost("/revoke", c, &out); err != nil {
		return err
	}
	if !out.Removed {
		return fmt.Errorf("no grant matched %s", c.String())
	}
	fmt.Printf("%s revoked %s\n", ui.OKTag(), c.String())
	return nil
}
