// Package cli implements the bun-runner command-line interface using
// Cobra. The primary mode is `serve`, which exposes the sandbox as an
// MCP server; the rest of the commands drive the same stores for
// one-shot use and inspection.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/log"
)

var (
	verbose bool
	jsonOut bool

	// cfg is loaded in the persistent pre-run and read by every command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bun-runner",
	Short: "Capability-gated TypeScript/JavaScript execution for AI agents",
	Long: `bun-runner executes TypeScript and JavaScript in a sandbox where every
network request, file access, and environment read requires an explicit
capability grant. Denied requests return the exact permission to grant.

Run 'bun-runner serve' to expose the sandbox as an MCP server over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      config.DebugDir(),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			// Debug logging is best-effort; the default logger still works.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	defer log.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
