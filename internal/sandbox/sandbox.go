// Package sandbox carries the preamble script preloaded before user code
// in the local backend and composes the ambient variables both backends
// hand to the child runtime.
package sandbox

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed preamble.js
var preamble []byte

// Preamble returns the sandbox preamble script.
func Preamble() []byte {
	return preamble
}

// Materialize writes the preamble into dir and returns its path. The file
// is rewritten each call so a stale copy from an older binary never runs.
func Materialize(dir string) (string, error) {
	path := filepath.Join(dir, "preamble.js")
	if err := os.WriteFile(path, preamble, 0o644); err != nil {
		return "", fmt.Errorf("writing preamble: %w", err)
	}
	return path, nil
}

// ChildEnv composes the environment for the child runtime: the parent
// environment (bun needs PATH and HOME), the allowlisted variables, and
// the two ambient variables the preamble reads. Allowlisted names are
// sorted so ALLOWED_ENV_VARS is stable.
func ChildEnv(proxyURL string, allowed map[string]string) []string {
	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)

	env := os.Environ()
	for _, name := range names {
		env = append(env, name+"="+allowed[name])
	}
	env = append(env,
		"PROXY_URL="+proxyURL,
		"ALLOWED_ENV_VARS="+strings.Join(names, ","),
	)
	return env
}

// ContainerEnv composes the --env pairs for the container backend: the
// allowlisted variables plus ALLOWED_ENV_VARS for anything inside that
// wants to honor the allowlist.
func ContainerEnv(allowed map[string]string) []string {
	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names)+1)
	for _, name := range names {
		env = append(env, name+"="+allowed[name])
	}
	env = append(env, "ALLOWED_ENV_VARS="+strings.Join(names, ","))
	return env
}
