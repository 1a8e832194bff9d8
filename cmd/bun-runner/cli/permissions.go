package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List capabilities granted to a running bun-runner",
	Args:  cobra.NoArgs,
	RunE:  runPermissions,
}

var permissionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Revoke all granted capabilities",
	Args:  cobra.NoArgs,
	RunE:  runPermissionsClear,
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsClearCmd)
}

func runPermissions(cmd *cobra.Command, args []string) error {
	var out struct {
		Permissions []permission.Capability `json:"permissions"`
	}
	if err := proxyGet("/permissions", &out); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out)
	}

	if len(out.Permissions) == 0 {
		fmt.Println("No permissions granted.")
		return nil
	}
	for _, c := range out.Permissions {
		fmt.Printf("  %s  %s\n", c.String(), ui.Dim(c.Description))
	}
	return nil
}

func runPermissionsClear(cmd *cobra.Command, args []string) error {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := proxyPost("/clear", nil, &out); err != nil {
		return err
	}
	fmt.Printf("%s removed %d grant(s)\n", ui.OKTag(), out.Removed)
	return nil
}
