package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bunrunner/bunrunner/internal/container"
	"github.com/bunrunner/bunrunner/internal/id"
	"github.com/bunrunner/bunrunner/internal/langserver"
	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/sandbox"
)

const (
	cacheMount = "/cache"
	codeMount  = "/workspace"

	// tsserver is installed into the cache mount during warmup so it
	// survives container recreation.
	tsserverPath = "/cache/node_modules/typescript/lib/tsserver.js"

	// warmupTimeout bounds the best-effort typescript install.
	warmupTimeout = 60 * time.Second
)

// containerRuntime is the slice of container.Runtime the session drives.
// Narrowed so tests can substitute a fake CLI.
type containerRuntime interface {
	EnsureImage(ctx context.Context, image string) error
	Run(ctx context.Context, cfg container.RunConfig) (string, error)
	Exec(ctx context.Context, id string, opts container.ExecOptions, command ...string) (*container.ExecResult, error)
	ExecStream(ctx context.Context, id string, opts container.ExecOptions, command ...string) (*container.Process, error)
	IsRunning(ctx context.Context, id string) bool
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// languageService is the slice of langserver.Driver the session uses.
type languageService interface {
	GetDiagnostics(ctx context.Context, path string) ([]string, error)
	GetExportedFunctionTypes(ctx context.Context, path string) ([]langserver.FunctionType, error)
	Stop()
}

// SessionConfig fixes the shape of the instance the session manages.
type SessionConfig struct {
	Image    string
	CPUs     int
	Memory   string
	CacheDir string
}

// Session is the container execution backend: exactly one long-running
// isolated instance, created lazily on first execution and recreated when
// found dead. All methods are safe for concurrent use; executions are
// serialized on the single instance.
type Session struct {
	rt  containerRuntime
	cfg SessionConfig

	// startLS starts the language service inside a started instance.
	// Swapped out in tests.
	startLS func(id string) (languageService, error)

	mu       sync.Mutex
	id       string
	workDir  string
	ls       languageService
	lsCancel context.CancelFunc
}

// NewSession creates the container backend. Nothing starts until the
// first execution.
func NewSession(rt *container.Runtime, cfg SessionConfig) *Session {
	s := &Session{rt: rt, cfg: cfg}
	s.startLS = func(instanceID string) (languageService, error) {
		// The exec child lives as long as the driver; its context only
		// ends when the driver kills it.
		ctx, cancel := context.WithCancel(context.Background())
		proc, err := rt.ExecStream(ctx, instanceID, container.ExecOptions{},
			"bun", tsserverPath, "--useInferredProjectPerProjectRoot")
		if err != nil {
			cancel()
			return nil, err
		}
		s.lsCancel = cancel
		go func() {
			_ = proc.Wait()
			cancel()
		}()
		return langserver.Start(proc.Stdin, proc.Stdout, proc.Kill), nil
	}
	return s
}

// Active reports whether an instance is currently held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != ""
}

// Execute runs the processed source inside the instance: type-check
// first, then exec under the timeout.
func (s *Session) Execute(ctx context.Context, source string, opts Options) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStartedLocked(ctx, opts.Env); err != nil {
		return errorResult(fmt.Sprintf("container start failed: %v", err))
	}

	filename := id.Generate("code") + ".ts"
	hostPath := filepath.Join(s.workDir, filename)
	if err := os.WriteFile(hostPath, []byte(source), 0o644); err != nil {
		return errorResult(fmt.Sprintf("writing source to work dir: %v", err))
	}
	defer os.Remove(hostPath)

	containerPath := codeMount + "/" + filename
	if s.ls != nil {
		diags, err := s.ls.GetDiagnostics(ctx, containerPath)
		if err != nil {
			log.Warn("type check unavailable, executing anyway", "error", err)
		} else if len(diags) > 0 {
			return &Result{
				Success:  false,
				Error:    "TypeScript errors:\n" + strings.Join(diags, "\n"),
				ExitCode: 1,
			}
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	res, err := s.rt.Exec(execCtx, s.id, container.ExecOptions{WorkDir: codeMount}, "bun", "run", filename)
	if err != nil {
		// Infrastructure failure: drop the handle so the next call
		// starts fresh.
		s.teardownLocked(context.Background())
		return errorResult(fmt.Sprintf("executing in container: %v", err))
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Success:  false,
			Output:   res.Stdout,
			Error:    fmt.Sprintf("execution timed out after %s", opts.timeout()),
			ExitCode: res.ExitCode,
		}
	}

	if res.ExitCode != 0 {
		return &Result{
			Success:  false,
			Output:   res.Stdout,
			Error:    strings.TrimSpace(res.Stderr),
			ExitCode: res.ExitCode,
		}
	}
	return &Result{Success: true, Output: res.Stdout, ExitCode: 0}
}

// ExportedFunctionTypes type-introspects a source fragment using the
// instance's language service. It requires an active instance; starting
// one just for introspection is the caller's decision, not this
// method's.
func (s *Session) ExportedFunctionTypes(ctx context.Context, source string) ([]langserver.FunctionType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id == "" || s.ls == nil {
		return nil, fmt.Errorf("no active container: run code with the container backend first")
	}

	filename := id.Generate("types") + ".ts"
	hostPath := filepath.Join(s.workDir, filename)
	if err := os.WriteFile(hostPath, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("writing source to work dir: %w", err)
	}
	defer os.Remove(hostPath)

	return s.ls.GetExportedFunctionTypes(ctx, codeMount+"/"+filename)
}

// ensureStartedLocked verifies the held instance is running, or starts a
// fresh one. Called with s.mu held.
func (s *Session) ensureStartedLocked(ctx context.Context, env map[string]string) error {
	if s.id != "" {
		if s.rt.IsRunning(ctx, s.id) {
			return nil
		}
		log.Info("container died externally, restarting", "id", s.id)
		s.teardownLocked(ctx)
	}

	if err := s.rt.EnsureImage(ctx, s.cfg.Image); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "bun-runner-work-*")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	if err := writeStaticConfigs(workDir); err != nil {
		os.RemoveAll(workDir)
		return err
	}

	if err := os.MkdirAll(s.cfg.CacheDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return fmt.Errorf("creating cache dir: %w", err)
	}

	name := id.Generate("bun-runner")
	_, err = s.rt.Run(ctx, container.RunConfig{
		Name:  name,
		Image: s.cfg.Image,
		Mounts: []container.Mount{
			{Source: s.cfg.CacheDir, Target: cacheMount},
			{Source: workDir, Target: codeMount},
		},
		CPUs:   s.cfg.CPUs,
		Memory: s.cfg.Memory,
		Env:    sandbox.ContainerEnv(env),
	})
	if err != nil {
		os.RemoveAll(workDir)
		return err
	}

	s.id = name
	s.workDir = workDir

	s.warmupLocked(ctx)

	ls, err := s.startLS(s.id)
	if err != nil {
		log.Warn("language service failed to start, type checking disabled", "error", err)
		ls = nil
	}
	s.ls = ls
	return nil
}

// warmupLocked installs typescript into the cache mount so tsserver can
// start. Best effort: a failed warmup costs type checking, not
// execution.
func (s *Session) warmupLocked(ctx context.Context) {
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	res, err := s.rt.Exec(warmCtx, s.id, container.ExecOptions{WorkDir: cacheMount},
		"bun", "add", "typescript", "@types/bun")
	if err != nil {
		log.Warn("typescript install failed", "error", err)
		return
	}
	if res.ExitCode != 0 {
		log.Warn("typescript install failed", "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	}
}

// writeStaticConfigs writes the bunfig and tsconfig the instance sees at
// the code mount.
func writeStaticConfigs(workDir string) error {
	bunfig := "[install]\ncache = \"" + cacheMount + "/bun-install\"\n"
	if err := os.WriteFile(filepath.Join(workDir, "bunfig.toml"), []byte(bunfig), 0o644); err != nil {
		return fmt.Errorf("writing bunfig.toml: %w", err)
	}

	tsconfig := `{
  "compilerOptions": {
    "target": "ESNext",
    "module": "ESNext",
    "moduleResolution": "bundler",
    "types": ["bun"],
    "strict": true
  }
}
`
	if err := os.WriteFile(filepath.Join(workDir, "tsconfig.json"), []byte(tsconfig), 0o644); err != nil {
		return fmt.Errorf("writing tsconfig.json: %w", err)
	}
	return nil
}

// Reset tears the instance down; the next execution starts a fresh one.
// Used when the env allowlist changes under a live container.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(ctx)
}

// Close tears everything down. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.Reset(ctx)
	return nil
}

// teardownLocked stops the language service, then the instance, then
// removes it and the work directory. Called with s.mu held; a cleared id
// makes repeat calls no-ops.
func (s *Session) teardownLocked(ctx context.Context) {
	if s.id == "" {
		return
	}

	if s.ls != nil {
		s.ls.Stop()
		s.ls = nil
	}
	if s.lsCancel != nil {
		s.lsCancel()
		s.lsCancel = nil
	}

	if err := s.rt.Stop(ctx, s.id); err != nil {
		log.Debug("stopping container", "error", err)
	}
	if err := s.rt.Remove(ctx, s.id); err != nil {
		log.Debug("removing container", "error", err)
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debug("removing work dir", "error", err)
		}
	}

	s.id = ""
	s.workDir = ""
}
