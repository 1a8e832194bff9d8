package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bunrunner/bunrunner/internal/config"
	"github.com/bunrunner/bunrunner/internal/container"
	"github.com/bunrunner/bunrunner/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment bun-runner needs",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	name   string
	detail string
	ok     bool
	// fatal marks checks the configured backend cannot work without.
	fatal bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := make([]doctorCheck, 4)

	// The checks are independent probes of external state; run them
	// together.
	var g errgroup.Group
	g.Go(func() error { checks[0] = checkBun(); return nil })
	g.Go(func() error { checks[1] = checkContainerRuntime(); return nil })
	g.Go(func() error { checks[2] = checkProxyPort(); return nil })
	g.Go(func() error { checks[3] = checkStateDir(); return nil })
	_ = g.Wait()

	ui.Section("bun-runner doctor")
	failed := false
	for _, c := range checks {
		tag := ui.OKTag()
		if !c.ok {
			tag = ui.FailTag()
			if c.fatal {
				failed = true
			}
		}
		fmt.Printf("  %s %-18s %s\n", tag, c.name, ui.Dim(c.detail))
	}

	if failed {
		return fmt.Errorf("environment is not ready for the %s backend", cfg.Backend)
	}
	return nil
}

func checkBun() doctorCheck {
	c := doctorCheck{name: "bun", fatal: cfg.Backend == config.BackendLocal}
	path, err := exec.LookPath("bun")
	if err != nil {
		c.detail = "not found in PATH (install from https://bun.sh)"
		return c
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		c.detail = fmt.Sprintf("found at %s but --version failed: %v", path, err)
		return c
	}
	c.ok = true
	c.detail = fmt.Sprintf("%s (%s)", strings.TrimSpace(string(out)), path)
	return c
}

func checkContainerRuntime() doctorCheck {
	c := doctorCheck{name: "container runtime", fatal: cfg.Backend == config.BackendContainer}
	rt, err := container.Detect(cfg.Container.Binary)
	if err != nil {
		c.detail = err.Error()
		return c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	version, err := rt.Version(ctx)
	if err != nil {
		c.detail = fmt.Sprintf("found but not responding: %v", err)
		return c
	}
	c.ok = true
	c.detail = version
	return c
}

func checkProxyPort() doctorCheck {
	c := doctorCheck{name: "proxy port", fatal: true}
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.Port)

	ln, err := net.Listen("tcp", addr)
	if err == nil {
		ln.Close()
		c.ok = true
		c.detail = fmt.Sprintf("%d free", cfg.Proxy.Port)
		return c
	}

	// In use: fine if it's a bun-runner proxy, a conflict otherwise.
	client := &http.Client{Timeout: 2 * time.Second}
	resp, herr := client.Get("http://" + addr + "/health")
	if herr == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			c.ok = true
			c.fatal = false
			c.detail = fmt.Sprintf("%d in use by a running bun-runner", cfg.Proxy.Port)
			return c
		}
	}
	c.detail = fmt.Sprintf("%d in use by another process", cfg.Proxy.Port)
	return c
}

func checkStateDir() doctorCheck {
	c := doctorCheck{name: "state directory", fatal: true}
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.detail = fmt.Sprintf("cannot create %s: %v", dir, err)
		return c
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		c.detail = fmt.Sprintf("%s is not writable: %v", dir, err)
		return c
	}
	os.Remove(probe)
	c.ok = true
	c.detail = dir
	return c
}
