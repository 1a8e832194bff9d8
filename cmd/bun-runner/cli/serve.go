package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Start the MCP server. The permission proxy comes up on the configured
port and the execution backend is prepared; tools are served over stdio
until the client disconnects.

This is the mode MCP clients should configure:
  { "command": "bun-runner", "args": ["serve"] }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	}()

	log.Info("permission proxy listening", "url", svc.ProxyURL(), "backend", cfg.Backend)

	// ServeStdio returns on client disconnect or SIGINT/SIGTERM; the
	// deferred Close tears down the container and the proxy either way.
	srv := mcpserver.New(svc, Version())
	return srv.Run(cmd.Context())
}
