package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var (
	runBackend string
	runTimeout int
)

var runCmd = &cobra.Command{
	Use:   "run <file.ts|->",
	Short: "Execute a TypeScript/JavaScript file in the sandbox",
	Long: `Execute a file (or stdin with -) through the sandbox. Snippet
directives are inlined and the permission proxy gates all network
access; grants must already be in place or the run reports the exact
capability to grant.

The exit code mirrors the executed program's exit code.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runBackend, "backend", "", "execution backend for this run (local or container)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "execution timeout in seconds")
}

func runRun(cmd *cobra.Command, args []string) error {
	var source []byte
	var err error
	if args[0] == "-" {
		source, err = io.ReadAll(os.Stdin)
	} else {
		source, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	svc, err := newService()
	if err != nil {
		return err
	}

	opts := control.ExecOptions{Backend: runBackend}
	if runTimeout > 0 {
		opts.Timeout = time.Duration(runTimeout) * time.Second
	}

	res := svc.ExecuteCode(cmd.Context(), string(source), opts)
	if err := svc.Close(context.Background()); err != nil {
		ui.Warnf("shutdown incomplete: %v", err)
	}

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Print(res.Output)
		if !res.Success {
			ui.Errorf("%s", res.Error)
			if res.PermissionRequired != nil {
				hint, _ := json.Marshal(res.PermissionRequired)
				ui.Infof("Grant it with the grant_permission tool, or:\n  %s", hint)
			}
		}
	}

	if !res.Success {
		code := res.ExitCode
		if code <= 0 {
			code = 1
		}
		os.Exit(code)
	}
	return nil
}
