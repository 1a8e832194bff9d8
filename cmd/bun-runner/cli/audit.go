package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bunrunner/bunrunner/internal/audit"
	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var (
	auditVerify bool
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the tamper-evident decision log",
	Long: `Show recent entries from the hash-chained decision log: grants,
revokes, proxy allow/deny decisions, and executions. --verify re-hashes
the whole chain and reports the first break, if any.`,
	Args: cobra.NoArgs,
	RunE: runAuditCmd,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "verify the hash chain")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of entries to show")
}

func runAuditCmd(cmd *cobra.Command, args []string) error {
	store, err := audit.OpenStore(config.AuditDBPath())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer store.Close()

	if auditVerify {
		result, err := store.VerifyChain()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(result)
		}
		if result.Valid {
			fmt.Printf("%s chain valid (%d entries)\n", ui.OKTag(), result.EntryCount)
			return nil
		}
		return fmt.Errorf("chain invalid: %s", result.Error)
	}

	entries, err := store.Recent(auditLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %6d  %s  %-11s  %s\n",
			e.Sequence,
			e.Timestamp.Local().Format(time.RFC3339),
			e.Type,
			ui.Dim(summarizeEntry(e)))
	}
	return nil
}

// summarizeEntry renders one line of entry data for the human listing.
func summarizeEntry(e *audit.Entry) string {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return ""
	}
	switch e.Type {
	case audit.EntryProxyAllow, audit.EntryProxyDeny:
		var d audit.ProxyDecisionData
		if json.Unmarshal(data, &d) == nil {
			return fmt.Sprintf("%s %s", d.Method, d.URL)
		}
	case audit.EntryExec:
		var d audit.ExecData
		if json.Unmarshal(data, &d) == nil {
			status := "ok"
			if !d.Success {
				status = fmt.Sprintf("exit %d", d.ExitCode)
			}
			return fmt.Sprintf("%s backend, %d bytes, %s", d.Backend, d.Bytes, status)
		}
	case audit.EntryGrant:
		var d audit.GrantData
		if json.Unmarshal(data, &d) == nil {
			return d.Capability.String()
		}
	case audit.EntryRevoke:
		var d audit.RevokeData
		if json.Unmarshal(data, &d) == nil {
			return d.Capability.String()
		}
	case audit.EntryClear:
		var d audit.ClearData
		if json.Unmarshal(data, &d) == nil {
			return fmt.Sprintf("%d removed", d.Removed)
		}
	}
	return string(data)
}
