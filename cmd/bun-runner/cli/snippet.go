package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/snippet"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var snippetCmd = &cobra.Command{
	Use:   "snippet",
	Short: "Manage reusable code snippets",
	Long: `Snippets are named TypeScript fragments stored under the state
directory. Reference them from executed code with:

  // @use-snippet: <name>

Each snippet must carry a /** @description ... */ block.`,
}

var snippetSaveCmd = &cobra.Command{
	Use:   "save <name> <file.ts|->",
	Short: "Save a snippet from a file or stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var code []byte
		var err error
		if args[1] == "-" {
			code, err = readAllStdin()
		} else {
			code, err = os.ReadFile(args[1])
		}
		if err != nil {
			return fmt.Errorf("reading snippet source: %w", err)
		}

		saved, err := snippetStore().Save(args[0], string(code))
		if err != nil {
			return err
		}
		fmt.Printf("%s saved %s: %s\n", ui.OKTag(), saved.Name, saved.Description)
		return nil
	},
}

var snippetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snippets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snippets, err := snippetStore().List()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(snippets)
		}
		if len(snippets) == 0 {
			fmt.Println("No snippets saved.")
			return nil
		}
		for _, sn := range snippets {
			fmt.Printf("  %s  %s\n", sn.Name, ui.Dim(sn.Description))
		}
		return nil
	},
}

var snippetShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a snippet's source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sn, err := snippetStore().Get(args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(sn)
		}
		fmt.Print(sn.Code)
		return nil
	},
}

var snippetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := snippetStore().Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s deleted %s\n", ui.OKTag(), args[0])
		return nil
	},
}

var snippetTypesCmd = &cobra.Command{
	Use:   "types <name>",
	Short: "Show a snippet's exported function signatures",
	Long: `Report the exported function signatures of a saved snippet using the
container's TypeScript language service. Requires the container backend;
a container is started if none is running.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnippetTypes,
}

func init() {
	rootCmd.AddCommand(snippetCmd)
	snippetCmd.AddCommand(snippetSaveCmd, snippetListCmd, snippetShowCmd, snippetDeleteCmd, snippetTypesCmd)
}

func snippetStore() *snippet.Store {
	return snippet.NewStore(config.SnippetDir())
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}

func runSnippetTypes(cmd *cobra.Command, args []string) error {
	if cfg.Backend != config.BackendContainer {
		return fmt.Errorf("snippet type introspection requires the container backend: set backend: container in config.yaml")
	}

	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	// Introspection needs a live container; warm one up with an empty
	// program.
	if res := svc.ExecuteCode(cmd.Context(), "export {}\n", control.ExecOptions{Backend: config.BackendContainer}); !res.Success {
		return fmt.Errorf("starting container: %s", res.Error)
	}

	types, err := svc.SnippetTypes(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(types)
	}
	if len(types) == 0 {
		fmt.Println("No exported functions.")
		return nil
	}
	for _, t := range types {
		fmt.Printf("  %s\n", t.Signature)
		if t.Documentation != "" {
			fmt.Printf("    %s\n", ui.Dim(t.Documentation))
		}
	}
	return nil
}
