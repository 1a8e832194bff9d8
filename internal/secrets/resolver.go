// Package secrets resolves scheme-prefixed references in allowlisted
// environment values to their plaintext secrets. A value like
// ssm:///prod/api-key is fetched from its backend when the child
// environment is composed; plain values pass through untouched.
package secrets

import (
	"context"
	"strings"
	"sync"
)

// Resolver fetches the plaintext value for one reference scheme.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles (e.g. "ssm").
	Scheme() string

	// Resolve fetches the secret value for the full reference URI.
	Resolve(ctx context.Context, reference string) (string, error)
}

var (
	mu        sync.RWMutex
	resolvers = make(map[string]Resolver)
)

// Register adds a resolver to the registry, replacing any previous
// resolver for the same scheme.
func Register(r Resolver) {
	mu.Lock()
	defer mu.Unlock()
	resolvers[r.Scheme()] = r
}

// IsReference reports whether the value looks like a secret reference:
// a known registered scheme followed by "://".
func IsReference(value string) bool {
	scheme := parseScheme(value)
	if scheme == "" {
		return false
	}
	mu.RLock()
	defer mu.RUnlock()
	_, ok := resolvers[scheme]
	return ok
}

// Resolve dispatches to the registered resolver for the reference's scheme.
func Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	mu.RLock()
	r, ok := resolvers[scheme]
	mu.RUnlock()

	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}

	return r.Resolve(ctx, reference)
}

// ResolveAll resolves every reference-valued entry in vars and returns a
// new map with plaintext values. Non-reference values are copied through.
// The first resolution failure aborts and names the variable.
func ResolveAll(ctx context.Context, vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for name, value := range vars {
		if !IsReference(value) {
			out[name] = value
			continue
		}
		resolved, err := Resolve(ctx, value)
		if err != nil {
			return nil, &ResolutionError{Variable: name, Reference: value, Err: err}
		}
		out[name] = resolved
	}
	return out, nil
}

// parseScheme extracts the scheme from a URI ("ssm" from "ssm://...").
func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	return ref[:idx]
}
