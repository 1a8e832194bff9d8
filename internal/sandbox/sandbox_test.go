package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	path, err := Materialize(dir)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("preamble written to %q, want under %q", path, dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading materialized preamble: %v", err)
	}
	if string(data) != string(Preamble()) {
		t.Error("materialized preamble differs from embedded copy")
	}
}

func TestPreambleInterposesExpectedAPIs(t *testing.T) {
	src := string(Preamble())

	for _, want := range []string{
		"globalThis.fetch",
		"PROXY_URL",
		"ALLOWED_ENV_VARS",
		"PERMISSION_DENIED",
		"Bun.spawn",
		"process.env",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("preamble does not mention %q", want)
		}
	}
}

func TestChildEnv(t *testing.T) {
	env := ChildEnv("http://127.0.0.1:8765", map[string]string{
		"B_KEY": "2",
		"A_KEY": "1",
	})

	var gotProxy, gotAllowed string
	seen := map[string]bool{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "PROXY_URL":
			gotProxy = v
		case "ALLOWED_ENV_VARS":
			gotAllowed = v
		case "A_KEY", "B_KEY":
			seen[k+"="+v] = true
		}
	}

	if gotProxy != "http://127.0.0.1:8765" {
		t.Errorf("PROXY_URL = %q", gotProxy)
	}
	if gotAllowed != "A_KEY,B_KEY" {
		t.Errorf("ALLOWED_ENV_VARS = %q, want sorted A_KEY,B_KEY", gotAllowed)
	}
	if !seen["A_KEY=1"] || !seen["B_KEY=2"] {
		t.Errorf("allowlisted values missing from child env: %v", seen)
	}
}

func TestContainerEnv(t *testing.T) {
	env := ContainerEnv(map[string]string{"API_KEY": "abc"})
	want := []string{"API_KEY=abc", "ALLOWED_ENV_VARS=API_KEY"}
	if len(env) != len(want) {
		t.Fatalf("ContainerEnv = %v, want %v", env, want)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Errorf("ContainerEnv[%d] = %q, want %q", i, env[i], want[i])
		}
	}
}

func TestContainerEnvEmptyAllowlist(t *testing.T) {
	env := ContainerEnv(nil)
	if len(env) != 1 || env[0] != "ALLOWED_ENV_VARS=" {
		t.Errorf("ContainerEnv(nil) = %v, want [ALLOWED_ENV_VARS=]", env)
	}
}
