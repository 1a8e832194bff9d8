package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/ui"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the permission proxy standalone",
	Long: `Run the permission proxy in the foreground without the MCP server,
for driving external runtimes. Grants are managed with 'bun-runner
grant' and 'bun-runner revoke' from another shell; decisions land in
the audit log. Ctrl-C stops it.`,
	Args: cobra.NoArgs,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService()
	if err != nil {
		return err
	}

	fmt.Printf("%s permission proxy listening on %s\n", ui.OKTag(), svc.ProxyURL())
	fmt.Println(ui.Dim("  point sandboxed runtimes at PROXY_URL=" + svc.ProxyURL()))

	<-ctx.Done()
	fmt.Println("\nshutting down")
	return svc.Close(context.Background())
}
