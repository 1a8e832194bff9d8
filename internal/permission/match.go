package permission

import (
	"regexp"
	"strings"
)

// globRegexp compiles a glob pattern where * is the only metacharacter.
// Every other rune is matched literally; starClass is the regex fragment
// substituted for each *.
func globRegexp(pattern, starClass string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(starClass)
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// MatchPath reports whether path matches the glob pattern. A * matches any
// run of characters except /, so "/a/*" covers "/a/b" but not "/a/b/c".
func MatchPath(pattern, path string) bool {
	return globRegexp(pattern, `[^/]*`).MatchString(path)
}

// MatchEnvVar reports whether an environment variable name matches the glob
// pattern. Unlike paths, * matches any run of characters including an empty
// one. A pattern ending in "_*" grants the whole family named by its stem:
// "SECRET_*" covers "SECRET_API_KEY", "SECRET_" and the bare "SECRET".
func MatchEnvVar(pattern, name string) bool {
	if globRegexp(pattern, `.*`).MatchString(name) {
		return true
	}
	stem, ok := strings.CutSuffix(pattern, "_*")
	return ok && MatchEnvVar(stem, name)
}

// Match reports whether a granted capability covers a required one. The
// required side is always fully literal (an executor describes the concrete
// action it wants); the granted side may be broader via glob patterns.
func Match(required, granted Capability) bool {
	if required.Type != granted.Type {
		return false
	}
	switch required.Type {
	case KindHTTP:
		if granted.Host != required.Host {
			return false
		}
		// A granted capability without a path pattern, or with "*", covers
		// every path on the host.
		if required.PathPattern != "" && granted.PathPattern != "" &&
			granted.PathPattern != "*" && granted.PathPattern != required.PathPattern {
			if !MatchPath(granted.PathPattern, required.PathPattern) {
				return false
			}
		}
		// Empty granted methods mean all methods.
		if len(required.Methods) > 0 && len(granted.Methods) > 0 {
			for _, m := range required.Methods {
				if !containsMethod(granted.Methods, m) {
					return false
				}
			}
		}
		return true
	case KindFile:
		if !MatchPath(granted.Path, required.Path) {
			return false
		}
		for _, op := range required.Operations {
			if !containsOperation(granted.Operations, op) {
				return false
			}
		}
		return true
	case KindEnv:
		for _, v := range required.Variables {
			if !anyEnvPatternMatches(granted.Variables, v) {
				return false
			}
		}
		return true
	}
	return false
}

func containsMethod(ms []Method, m Method) bool {
	for _, have := range ms {
		if have == m {
			return true
		}
	}
	return false
}

func containsOperation(ops []Operation, op Operation) bool {
	for _, have := range ops {
		if have == op {
			return true
		}
	}
	return false
}

func anyEnvPatternMatches(patterns []string, name string) bool {
	for _, p := range patterns {
		if MatchEnvVar(p, name) {
			return true
		}
	}
	return false
}
