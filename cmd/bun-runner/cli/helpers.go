package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/permission"
)

// newService builds the full control surface from the loaded config.
// Callers own Close.
func newService() (*control.Service, error) {
	return control.New(cfg, control.Paths{})
}

// proxyBaseURL is where a running bun-runner's permission proxy listens.
func proxyBaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Proxy.Port)
}

var proxyClient = &http.Client{Timeout: 5 * time.Second}

// proxyPost sends a management request to the running proxy and decodes
// the JSON reply into out (which may be nil).
func proxyPost(path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	resp, err := proxyClient.Post(proxyBaseURL()+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("no bun-runner proxy on port %d (is 'bun-runner serve' or 'bun-runner proxy' running?): %w", cfg.Proxy.Port, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading proxy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("proxy returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// proxyGet fetches a management route from the running proxy.
func proxyGet(path string, out any) error {
	resp, err := proxyClient.Get(proxyBaseURL() + path)
	if err != nil {
		return fmt.Errorf("no bun-runner proxy on port %d (is 'bun-runner serve' or 'bun-runner proxy' running?): %w", cfg.Proxy.Port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// capabilityFlags are the shared grant/revoke flag values.
type capabilityFlags struct {
	methods     []string
	operations  []string
	description string
}

func (f *capabilityFlags) httpCapability(host, pathPattern string) permission.Capability {
	methods := make([]permission.Method, len(f.methods))
	for i, m := range f.methods {
		methods[i] = permission.Method(m)
	}
	return permission.Capability{
		Type:        permission.KindHTTP,
		Host:        host,
		PathPattern: pathPattern,
		Methods:     methods,
		Description: f.description,
	}
}

func (f *capabilityFlags) fileCapability(path string) permission.Capability {
	ops := make([]permission.Operation, len(f.operations))
	for i, op := range f.operations {
		ops[i] = permission.Operation(op)
	}
	return permission.Capability{
		Type:        permission.KindFile,
		Path:        path,
		Operations:  ops,
		Description: f.description,
	}
}

func (f *capabilityFlags) envCapability(patterns []string) permission.Capability {
	return permission.Capability{
		Type:        permission.KindEnv,
		Variables:   patterns,
		Description: f.description,
	}
}
