package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var grantFlags capabilityFlags

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a capability to a running bun-runner",
	Long: `Grant a capability to the bun-runner currently serving on the
configured proxy port. Grants live for that process only.

Examples:
  bun-runner grant http api.example.com "/v1/*" --methods GET,POST -d "api access"
  bun-runner grant file "/tmp/*" --operations read -d "temp files"
  bun-runner grant env "API_*" -d "api credentials"`,
}

var grantHTTPCmd = &cobra.Command{
	Use:   "http <host> [pathPattern]",
	Short: "Grant HTTP access to a host",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pathPattern := ""
		if len(args) == 2 {
			pathPattern = args[1]
		}
		return sendGrant(grantFlags.httpCapability(args[0], pathPattern))
	},
}

var grantFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Grant file access to a path glob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendGrant(grantFlags.fileCapability(args[0]))
	},
}

var grantEnvCmd = &cobra.Command{
	Use:   "env <pattern>...",
	Short: "Grant environment variable reads by name glob",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendGrant(grantFlags.envCapability(args))
	},
}

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.AddCommand(grantHTTPCmd, grantFileCmd, grantEnvCmd)

	grantCmd.PersistentFlags().StringVarP(&grantFlags.description, "description", "d", "granted from the command line", "why this capability is needed")
	grantHTTPCmd.Flags().StringSliceVar(&grantFlags.methods, "methods", nil, "allowed HTTP methods (empty = all)")
	grantFileCmd.Flags().StringSliceVar(&grantFlags.operations, "operations", []string{"read"}, "file operations (read, write)")
}

func sendGrant(c permission.Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := proxyPost("/grant", c, nil); err != nil {
		return err
	}
	fmt.Printf("%s granted %s\n", ui.OKTag(), c.String())
	return nil
}
