// Package container shells out to a container CLI (Docker or Apple's
// container tool) to manage the single isolation instance used by the
// container execution backend. Only the subcommand surface both CLIs
// share is used: image list/pull, run, exec, inspect, stop, rm.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/bunrunner/bunrunner/internal/log"
)

// Runtime wraps one container CLI binary.
type Runtime struct {
	bin string
}

// New creates a runtime for an explicit CLI binary.
func New(bin string) (*Runtime, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("container CLI %q not found: %w", bin, err)
	}
	return &Runtime{bin: path}, nil
}

// Binary returns the resolved CLI binary path.
func (r *Runtime) Binary() string {
	return r.bin
}

// Version runs `<bin> --version` and returns its trimmed output.
func (r *Runtime) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", r.bin, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Mount is a host-path to container-path bind mount.
type Mount struct {
	Source string
	Target string
}

// RunConfig describes the detached instance to start.
type RunConfig struct {
	Name   string
	Image  string
	Mounts []Mount
	CPUs   int
	Memory string
	Env    []string // K=V pairs
}

// ImageExists checks the local image list for the given reference. The
// listing is parsed as whitespace-separated rows; an image is present when
// its name and tag appear on the same line.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	cmd := exec.CommandContext(ctx, r.bin, "image", "list")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("listing images: %w: %s", err, stderr.String())
	}
	name, tag := splitImageRef(image)
	return imageListed(stdout.String(), name, tag), nil
}

// PullImage pulls the given image reference.
func (r *Runtime) PullImage(ctx context.Context, image string) error {
	cmd := exec.CommandContext(ctx, r.bin, "image", "pull", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pulling image %s: %w: %s", image, err, stderr.String())
	}
	return nil
}

// EnsureImage pulls the image if it is not already present.
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	exists, err := r.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	log.Info("pulling container image", "image", image)
	return r.PullImage(ctx, image)
}

// Run starts a detached instance held open by `sleep infinity` and returns
// its name.
func (r *Runtime) Run(ctx context.Context, cfg RunConfig) (string, error) {
	args := buildRunArgs(cfg)
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("starting container: %w: %s", err, stderr.String())
	}
	return cfg.Name, nil
}

// buildRunArgs constructs the arguments for `run --detach`.
func buildRunArgs(cfg RunConfig) []string {
	args := []string{"run", "--detach", "--name", cfg.Name}
	for _, m := range cfg.Mounts {
		args = append(args, "--volume", m.Source+":"+m.Target)
	}
	if cfg.CPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%d", cfg.CPUs))
	}
	if cfg.Memory != "" {
		args = append(args, "--memory", cfg.Memory)
	}
	for _, env := range cfg.Env {
		args = append(args, "--env", env)
	}
	args = append(args, cfg.Image, "sleep", "infinity")
	return args
}

// ExecOptions modify an exec invocation.
type ExecOptions struct {
	WorkDir     string
	Interactive bool // keep stdin open (-i)
}

// ExecResult carries the streams and exit code of a finished exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a command inside the instance and waits for it. A non-zero
// exit from the command is reported in ExitCode, not as an error; the
// error return is reserved for failures to run the CLI itself.
func (r *Runtime) Exec(ctx context.Context, id string, opts ExecOptions, command ...string) (*ExecResult, error) {
	args := buildExecArgs(id, opts, command)
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("exec in %s: %w", id, err)
	}
	return res, nil
}

func buildExecArgs(id string, opts ExecOptions, command []string) []string {
	args := []string{"exec"}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}
	args = append(args, id)
	args = append(args, command...)
	return args
}

// Process is a long-running exec child with attached stdio, used for the
// language service.
type Process struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// ExecStream starts a command inside the instance with piped stdin and
// stdout and returns without waiting.
func (r *Runtime) ExecStream(ctx context.Context, id string, opts ExecOptions, command ...string) (*Process, error) {
	opts.Interactive = true
	args := buildExecArgs(id, opts, command)
	cmd := exec.CommandContext(ctx, r.bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("starting exec in %s: %w", id, err)
	}
	return &Process{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}

// Kill terminates the exec child.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Wait reaps the exec child after it exits or is killed.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}

// IsRunning inspects the instance and reports whether it is running. Both
// CLIs include the literal "Running" in their inspect output for a live
// instance; any inspect failure (including an unknown name) reads as not
// running.
func (r *Runtime) IsRunning(ctx context.Context, id string) bool {
	out, err := exec.CommandContext(ctx, r.bin, "inspect", id).Output()
	if err != nil {
		return false
	}
	return inspectRunning(string(out))
}

// Stop stops the instance.
func (r *Runtime) Stop(ctx context.Context, id string) error {
	cmd := exec.CommandContext(ctx, r.bin, "stop", id)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stopping %s: %w: %s", id, err, stderr.String())
	}
	return nil
}

// Remove removes the instance.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	cmd := exec.CommandContext(ctx, r.bin, "rm", id)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("removing %s: %w: %s", id, err, stderr.String())
	}
	return nil
}

// splitImageRef splits "oven/bun:latest" into name and tag. A missing tag
// means "latest".
func splitImageRef(image string) (name, tag string) {
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		return image[:i], image[i+1:]
	}
	return image, "latest"
}

// imageListed scans `image list` output for a row naming both the image
// and the tag. Rows are whitespace-separated NAME TAG [DIGEST ...]
// columns; matching on fields rather than positions tolerates the two
// CLIs' differing column sets.
func imageListed(listing, name, tag string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		hasName, hasTag := false, false
		for _, f := range fields {
			if f == name || strings.HasPrefix(f, name+":") {
				hasName = true
			}
			if f == tag || f == name+":"+tag {
				hasTag = true
			}
		}
		if hasName && hasTag {
			return true
		}
	}
	return false
}

// inspectRunning reports whether inspect output describes a running
// instance. Docker prints `"Running": true` in its JSON; Apple's tool
// prints a status field containing "Running" (any case).
func inspectRunning(out string) bool {
	lower := strings.ToLower(out)
	if strings.Contains(lower, `"running": false`) || strings.Contains(lower, `"running":false`) {
		return false
	}
	return strings.Contains(lower, "running")
}
