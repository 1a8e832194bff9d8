package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/envstore"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage the environment variable allowlist",
	Long: `Manage the variables sandboxed code may read. Values live in
` + config.EnvFilePath() + ` and may be secret references
(ssm://, op://, aws-sm://) resolved at execution time.

Ambient variables prefixed ` + envstore.Prefix + ` also seed the
allowlist; file values win on conflict.`,
}

var envSetCmd = &cobra.Command{
	Use:   "set <NAME> [value]",
	Short: "Allowlist a variable, prompting for the value if omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runEnvSet,
}

var envUnsetCmd = &cobra.Command{
	Use:   "unset <NAME>",
	Short: "Remove a variable from the allowlist file",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnvUnset,
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowlisted variable names (values are never shown)",
	Args:  cobra.NoArgs,
	RunE:  runEnvList,
}

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envSetCmd, envUnsetCmd, envListCmd)
}

func openEnvStore() (*envstore.Store, error) {
	return envstore.New(config.EnvFilePath())
}

func runEnvSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		// Prompt with echo off so the value stays out of shell history
		// and the terminal.
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading value: %w", err)
		}
		value = string(data)
	}

	store, err := openEnvStore()
	if err != nil {
		return err
	}
	if err := store.Set(name, value); err != nil {
		return err
	}
	fmt.Printf("%s %s allowlisted\n", ui.OKTag(), name)
	return nil
}

func runEnvUnset(cmd *cobra.Command, args []string) error {
	store, err := openEnvStore()
	if err != nil {
		return err
	}
	removed, err := store.Unset(args[0])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not in the allowlist file", args[0])
	}
	fmt.Printf("%s %s removed\n", ui.OKTag(), args[0])
	return nil
}

func runEnvList(cmd *cobra.Command, args []string) error {
	store, err := openEnvStore()
	if err != nil {
		return err
	}
	names := store.Names()
	if jsonOut {
		return printJSON(names)
	}
	if len(names) == 0 {
		fmt.Println("No variables allowlisted.")
		return nil
	}
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
