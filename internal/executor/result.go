// Package executor runs user programs through one of the two backends
// (local bun with the sandbox preamble, or an isolated container) and
// reports a uniform result either way.
package executor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bunrunner/bunrunner/internal/permission"
)

// DefaultTimeout bounds an execution when the caller does not say.
const DefaultTimeout = 30 * time.Second

// Result is the uniform outcome of one execution.
type Result struct {
	Success            bool                   `json:"success"`
	Output             string                 `json:"output,omitempty"`
	Error              string                 `json:"error,omitempty"`
	PermissionRequired *permission.Capability `json:"permissionRequired,omitempty"`
	ExitCode           int                    `json:"exitCode"`
}

// Options modify one execution.
type Options struct {
	Timeout time.Duration
	// Env holds the allowlisted environment variables, already resolved,
	// to expose to the user program.
	Env map[string]string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// errorResult builds a failed result that never reached the runtime.
func errorResult(msg string) *Result {
	return &Result{Success: false, Error: msg, ExitCode: 1}
}

// parseDenial scans stderr for the first newline-delimited JSON denial
// record the preamble emits before the runtime exits.
func parseDenial(stderr string) *permission.Denial {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var denial permission.Denial
		if err := json.Unmarshal([]byte(line), &denial); err != nil {
			continue
		}
		if denial.Code == permission.DeniedCode {
			return &denial
		}
	}
	return nil
}
