// Package control wires the permission store, proxy, executors, and the
// supporting stores into one service. The MCP server and the CLI both
// drive this surface; neither touches the underlying packages directly.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bunrunner/bunrunner/internal/audit"
	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/container"
	"github.com/bunrunner/bunrunner/internal/envstore"
	"github.com/bunrunner/bunrunner/internal/executor"
	"github.com/bunrunner/bunrunner/internal/langserver"
	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/proxy"
	"github.com/bunrunner/bunrunner/internal/secrets"
	"github.com/bunrunner/bunrunner/internal/snippet"
)

// Paths fixes where the service keeps its state. The zero value means
// the default ~/.bun-runner-mcp layout; tests point everything at temp
// directories.
type Paths struct {
	EnvFile    string
	SnippetDir string
	CacheDir   string
	AuditDB    string
}

func (p Paths) withDefaults() Paths {
	if p.EnvFile == "" {
		p.EnvFile = config.EnvFilePath()
	}
	if p.SnippetDir == "" {
		p.SnippetDir = config.SnippetDir()
	}
	if p.CacheDir == "" {
		p.CacheDir = config.CacheDir()
	}
	if p.AuditDB == "" {
		p.AuditDB = config.AuditDBPath()
	}
	return p
}

// Service owns every long-lived component of a bun-runner process.
type Service struct {
	cfg *config.Config

	perms    *permission.Store
	proxySrv *proxy.Server
	env      *envstore.Store
	snippets *snippet.Store
	inliner  *snippet.Inliner
	auditLog *audit.Store // nil when the audit db could not be opened

	local   *executor.Local
	session *executor.Session // nil on the local backend

	closeOnce sync.Once
	closeErr  error
}

// New starts the service: opens the stores, binds the proxy on loopback,
// and prepares the configured execution backend. The container itself is
// not started here; the session creates it lazily on first use.
func New(cfg *config.Config, paths Paths) (*Service, error) {
	paths = paths.withDefaults()

	s := &Service{
		cfg:   cfg,
		perms: permission.NewStore(),
	}

	// A broken audit log must not take permission brokering down with it.
	auditLog, err := audit.OpenStore(paths.AuditDB)
	if err != nil {
		log.Warn("audit log unavailable, decisions will not be recorded", "path", paths.AuditDB, "error", err)
	} else {
		s.auditLog = auditLog
	}

	p := proxy.NewProxy(s.perms)
	p.SetDecisionLogger(s.recordProxyDecision)
	s.proxySrv = proxy.NewServer(p)
	s.proxySrv.SetPort(cfg.Proxy.Port)
	if err := s.proxySrv.Start(); err != nil {
		s.closeAudit()
		return nil, fmt.Errorf("starting permission proxy: %w", err)
	}

	env, err := envstore.New(paths.EnvFile)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}
	s.env = env

	s.snippets = snippet.NewStore(paths.SnippetDir)
	s.inliner = snippet.NewInliner(s.snippets)

	s.local = executor.NewLocal(s.proxySrv.URL())

	if cfg.Backend == config.BackendContainer {
		rt, err := container.Detect(cfg.Container.Binary)
		if err != nil {
			s.shutdownPartial()
			return nil, fmt.Errorf("container backend unavailable: %w", err)
		}
		s.session = executor.NewSession(rt, executor.SessionConfig{
			Image:    cfg.Container.Image,
			CPUs:     cfg.Container.CPUs,
			Memory:   cfg.Container.Memory,
			CacheDir: paths.CacheDir,
		})
	}

	// External edits to the allowlist invalidate the running container:
	// its environment was baked in at creation.
	if err := env.Watch(s.onEnvChange); err != nil {
		log.Warn("env file watch unavailable", "error", err)
	}

	return s, nil
}

func (s *Service) onEnvChange() {
	log.Info("environment allowlist changed")
	if s.session != nil {
		s.session.Reset(context.Background())
	}
}

// ProxyURL returns the base URL of the running permission proxy.
func (s *Service) ProxyURL() string {
	return s.proxySrv.URL()
}

// Config returns the loaded configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// ExecOptions adjusts a single execution.
type ExecOptions struct {
	// Backend overrides the configured backend for this run.
	Backend string
	// Timeout overrides execution.timeout_seconds for this run.
	Timeout time.Duration
}

// ExecuteCode inlines snippets, resolves secret references in the
// allowlisted environment, and runs the program on the selected backend.
func (s *Service) ExecuteCode(ctx context.Context, code string, opts ExecOptions) *executor.Result {
	start := time.Now()
	res := s.execute(ctx, code, opts)
	s.appendAudit(audit.EntryExec, audit.ExecData{
		Backend:    s.backendName(opts.Backend),
		Bytes:      len(code),
		Success:    res.Success,
		ExitCode:   res.ExitCode,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      res.Error,
	})
	return res
}

func (s *Service) execute(ctx context.Context, code string, opts ExecOptions) *executor.Result {
	source, err := s.inliner.Inline(code)
	if err != nil {
		return &executor.Result{Success: false, Error: err.Error(), ExitCode: 1}
	}

	env, err := secrets.ResolveAll(ctx, s.env.Snapshot())
	if err != nil {
		return &executor.Result{Success: false, Error: err.Error(), ExitCode: 1}
	}

	execOpts := executor.Options{Timeout: s.timeout(opts.Timeout), Env: env}

	switch s.backendName(opts.Backend) {
	case config.BackendContainer:
		if s.session == nil {
			return &executor.Result{
				Success:  false,
				Error:    "container backend is not configured: set backend: container in config.yaml",
				ExitCode: 1,
			}
		}
		return s.session.Execute(ctx, source, execOpts)
	default:
		return s.local.Execute(ctx, source, execOpts)
	}
}

func (s *Service) backendName(override string) string {
	if override != "" {
		return override
	}
	return s.cfg.Backend
}

func (s *Service) timeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if s.cfg.Execution.TimeoutSeconds > 0 {
		return time.Duration(s.cfg.Execution.TimeoutSeconds) * time.Second
	}
	return executor.DefaultTimeout
}

// GrantPermission validates and grants a capability for the rest of the
// process lifetime.
func (s *Service) GrantPermission(c permission.Capability) error {
	if err := s.perms.Grant(c); err != nil {
		return err
	}
	s.appendAudit(audit.EntryGrant, audit.GrantData{Capability: c})
	return nil
}

// RevokePermission removes every grant structurally equal to c.
func (s *Service) RevokePermission(c permission.Capability) bool {
	removed := s.perms.Revoke(c)
	s.appendAudit(audit.EntryRevoke, audit.RevokeData{Capability: c, Removed: removed})
	return removed
}

// ListPermissions returns the current grants in grant order.
func (s *Service) ListPermissions() []permission.Capability {
	return s.perms.List()
}

// ClearPermissions removes all grants and returns how many there were.
func (s *Service) ClearPermissions() int {
	removed := s.perms.Clear()
	s.appendAudit(audit.EntryClear, audit.ClearData{Removed: removed})
	return removed
}

// SaveSnippet stores a named reusable fragment.
func (s *Service) SaveSnippet(name, code string) (*snippet.Snippet, error) {
	return s.snippets.Save(name, code)
}

// ListSnippets returns all stored snippets sorted by name.
func (s *Service) ListSnippets() ([]*snippet.Snippet, error) {
	return s.snippets.List()
}

// GetSnippet retrieves a snippet by name.
func (s *Service) GetSnippet(name string) (*snippet.Snippet, error) {
	return s.snippets.Get(name)
}

// DeleteSnippet removes a snippet.
func (s *Service) DeleteSnippet(name string) error {
	return s.snippets.Delete(name)
}

// SnippetTypes reports the exported function signatures of a stored
// snippet using the container's language service.
func (s *Service) SnippetTypes(ctx context.Context, name string) ([]langserver.FunctionType, error) {
	if s.session == nil {
		return nil, fmt.Errorf("snippet type introspection requires the container backend")
	}
	snip, err := s.snippets.Get(name)
	if err != nil {
		return nil, err
	}
	// Inline the snippet's own dependencies so cross-snippet references
	// type-check.
	source, err := s.inliner.Inline(snip.Code)
	if err != nil {
		return nil, err
	}
	return s.session.ExportedFunctionTypes(ctx, source)
}

// SetEnv persists an allowlisted variable. The running container is
// invalidated so the next execution sees the new value.
func (s *Service) SetEnv(ctx context.Context, name, value string) error {
	if err := s.env.Set(name, value); err != nil {
		return err
	}
	if s.session != nil {
		s.session.Reset(ctx)
	}
	return nil
}

// UnsetEnv removes a variable from the allowlist file.
func (s *Service) UnsetEnv(ctx context.Context, name string) (bool, error) {
	removed, err := s.env.Unset(name)
	if err != nil {
		return false, err
	}
	if removed && s.session != nil {
		s.session.Reset(ctx)
	}
	return removed, nil
}

// EnvNames returns the allowlisted variable names in sorted order.
// Values are never listed.
func (s *Service) EnvNames() []string {
	return s.env.Names()
}

// RecentAudit returns the newest audit entries, at most limit.
func (s *Service) RecentAudit(limit int) ([]*audit.Entry, error) {
	if s.auditLog == nil {
		return nil, fmt.Errorf("audit log is not available")
	}
	return s.auditLog.Recent(limit)
}

// VerifyAudit checks the hash chain over the whole audit log.
func (s *Service) VerifyAudit() (*audit.ChainResult, error) {
	if s.auditLog == nil {
		return nil, fmt.Errorf("audit log is not available")
	}
	return s.auditLog.VerifyChain()
}

// recordProxyDecision is installed as the proxy's decision logger.
func (s *Service) recordProxyDecision(d proxy.DecisionData) {
	entryType := audit.EntryProxyAllow
	if !d.Allowed {
		entryType = audit.EntryProxyDeny
	}
	data := audit.ProxyDecisionData{
		Method:     d.Method,
		URL:        d.URL,
		Allowed:    d.Allowed,
		StatusCode: d.StatusCode,
		RequestID:  d.RequestID,
		DurationMs: d.Duration.Milliseconds(),
	}
	if d.Err != nil {
		data.Error = d.Err.Error()
	}
	s.appendAudit(entryType, data)
}

// appendAudit writes one entry, tolerating a missing or failing log.
func (s *Service) appendAudit(entryType audit.EntryType, data any) {
	if s.auditLog == nil {
		return
	}
	if _, err := s.auditLog.Append(entryType, data); err != nil {
		log.Warn("audit append failed", "type", entryType, "error", err)
	}
}

// Close tears everything down in dependency order: watcher first so env
// changes stop arriving, then the container, the proxy, and the audit
// log. Idempotent.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.env != nil {
			if err := s.env.Close(); err != nil {
				log.Debug("closing env store", "error", err)
			}
		}
		if s.session != nil {
			if err := s.session.Close(ctx); err != nil {
				s.closeErr = err
			}
		}
		if s.proxySrv != nil {
			if err := s.proxySrv.Stop(ctx); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.closeAudit()
	})
	return s.closeErr
}

func (s *Service) closeAudit() {
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			log.Debug("closing audit log", "error", err)
		}
		s.auditLog = nil
	}
}

// shutdownPartial unwinds a half-built service after a New failure.
func (s *Service) shutdownPartial() {
	if s.proxySrv != nil {
		_ = s.proxySrv.Stop(context.Background())
	}
	if s.env != nil {
		_ = s.env.Close()
	}
	s.closeAudit()
}
