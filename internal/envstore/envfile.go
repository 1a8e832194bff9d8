// Package envstore manages the environment allowlist exposed to user code:
// which variables exist, their values, and the dotenv file they persist in.
// Ambient process variables prefixed with BUN_RUNNER_ENV_ merge underneath
// the file; the file always wins.
package envstore

import (
	"sort"
	"strings"
)

// parseEnvFile reads dotenv content: blank lines and # comments are
// skipped, each remaining line splits at the first =, both sides are
// trimmed, and one pair of matching outer quotes is stripped from the
// value.
func parseEnvFile(data string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		vars[key] = unquote(value)
	}
	return vars
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// serializeEnvFile renders vars as KEY=VALUE lines in sorted key order,
// double-quoting any value containing a space, a quote, or a newline.
// parseEnvFile(serializeEnvFile(m)) == m for any map with valid names and
// control-character-free values.
func serializeEnvFile(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(quoteIfNeeded(vars[k]))
		b.WriteString("\n")
	}
	return b.String()
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \"'\n") {
		return `"` + v + `"`
	}
	return v
}
