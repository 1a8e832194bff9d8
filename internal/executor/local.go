package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/sandbox"
)

// healthTimeout bounds the pre-flight proxy health check.
const healthTimeout = 2 * time.Second

// Local executes user programs with bun on the host, preloading the
// sandbox preamble so every fetch is brokered through the permission
// proxy.
type Local struct {
	proxyURL string
	bunBin   string
	client   *http.Client
}

// NewLocal creates the local backend against a running proxy.
func NewLocal(proxyURL string) *Local {
	return &Local{
		proxyURL: proxyURL,
		bunBin:   "bun",
		client:   &http.Client{Timeout: healthTimeout},
	}
}

// SetRuntime overrides the runtime binary (tests use a stub script).
func (l *Local) SetRuntime(bin string) {
	l.bunBin = bin
}

// Execute runs the processed source under the given timeout. The proxy
// must be healthy before anything is spawned: without it, every fetch in
// the sandbox would hang rather than be checked.
func (l *Local) Execute(ctx context.Context, source string, opts Options) *Result {
	if err := l.checkProxyHealth(ctx); err != nil {
		return errorResult(fmt.Sprintf("permission proxy is not available: %v", err))
	}

	dir, err := os.MkdirTemp("", "bun-runner-*")
	if err != nil {
		return errorResult(fmt.Sprintf("creating temp dir: %v", err))
	}
	defer os.RemoveAll(dir)

	preamblePath, err := sandbox.Materialize(dir)
	if err != nil {
		return errorResult(err.Error())
	}
	codePath := filepath.Join(dir, "code.ts")
	if err := os.WriteFile(codePath, []byte(source), 0o644); err != nil {
		return errorResult(fmt.Sprintf("writing source: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, l.bunBin, "run", "--preload", preamblePath, codePath)
	cmd.Env = sandbox.ChildEnv(l.proxyURL, opts.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	log.Debug("local execution finished", "duration", time.Since(start), "error", runErr)

	exitCode := 0
	if runErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	// The preamble writes the denial record before the runtime dies, so
	// a non-zero exit with a denial on stderr is attributed to it.
	if denial := parseDenial(stderr.String()); denial != nil {
		required := denial.RequiredPermission
		return &Result{
			Success:            false,
			Output:             stdout.String(),
			Error:              fmt.Sprintf("Permission denied: %s", required.String()),
			PermissionRequired: &required,
			ExitCode:           exitCode,
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Success:  false,
			Output:   stdout.String(),
			Error:    fmt.Sprintf("execution timed out after %s", opts.timeout()),
			ExitCode: exitCode,
		}
	}

	if runErr != nil {
		return &Result{
			Success:  false,
			Output:   stdout.String(),
			Error:    strings.TrimSpace(stderr.String()),
			ExitCode: exitCode,
		}
	}

	return &Result{Success: true, Output: stdout.String(), ExitCode: 0}
}

func (l *Local) checkProxyHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.proxyURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
