// Package permission defines the capability model that gates everything a
// user program may observe outside its own process: HTTP egress, file
// access, and environment reads. Capabilities are granted into a Store and
// checked by the proxy before any side effect is allowed through.
package permission

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the capability variants.
type Kind string

const (
	KindHTTP Kind = "http"
	KindFile Kind = "file"
	KindEnv  Kind = "env"
)

// Method is an HTTP verb a capability may grant.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// Operation is a file access mode.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Capability describes one class of permitted actions. Exactly one variant
// is populated, selected by Type. Values are treated as immutable once
// granted; the Store copies on the way in and out.
type Capability struct {
	Type        Kind   `json:"type"`
	Description string `json:"description"`

	// http
	Host        string   `json:"host,omitempty"`
	PathPattern string   `json:"pathPattern,omitempty"`
	Methods     []Method `json:"methods,omitempty"`

	// file
	Path       string      `json:"path,omitempty"`
	Operations []Operation `json:"operations,omitempty"`

	// env
	Variables []string `json:"variables,omitempty"`
}

// Validate checks that the capability is well-formed for its kind.
func (c Capability) Validate() error {
	if c.Description == "" {
		return fmt.Errorf("capability description is required")
	}
	switch c.Type {
	case KindHTTP:
		if c.Host == "" {
			return fmt.Errorf("http capability requires a host")
		}
		for _, m := range c.Methods {
			switch m {
			case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
			default:
				return fmt.Errorf("invalid HTTP method %q (expected GET, POST, PUT, DELETE, or PATCH)", m)
			}
		}
	case KindFile:
		if c.Path == "" {
			return fmt.Errorf("file capability requires a path")
		}
		if len(c.Operations) == 0 {
			return fmt.Errorf("file capability requires at least one operation")
		}
		for _, op := range c.Operations {
			switch op {
			case OpRead, OpWrite:
			default:
				return fmt.Errorf("invalid file operation %q (expected read or write)", op)
			}
		}
	case KindEnv:
		if len(c.Variables) == 0 {
			return fmt.Errorf("env capability requires at least one variable pattern")
		}
	case "":
		return fmt.Errorf("capability type is required")
	default:
		return fmt.Errorf("unknown capability type %q (expected http, file, or env)", c.Type)
	}
	return nil
}

// Equal reports structural equality: same kind, same scalar fields, and the
// same multiset of methods, operations, and variables. Revocation removes
// every granted capability equal to its argument.
func (c Capability) Equal(o Capability) bool {
	if c.Type != o.Type || c.Description != o.Description {
		return false
	}
	if c.Host != o.Host || c.PathPattern != o.PathPattern || c.Path != o.Path {
		return false
	}
	return multisetEqual(c.Methods, o.Methods) &&
		multisetEqual(c.Operations, o.Operations) &&
		multisetEqual(c.Variables, o.Variables)
}

func multisetEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[T]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		counts[v]--
		if counts[v] < 0 {
			return false
		}
	}
	return true
}

// clone returns a deep copy so stored capabilities cannot be mutated
// through slices the caller still holds.
func (c Capability) clone() Capability {
	out := c
	if c.Methods != nil {
		out.Methods = append([]Method(nil), c.Methods...)
	}
	if c.Operations != nil {
		out.Operations = append([]Operation(nil), c.Operations...)
	}
	if c.Variables != nil {
		out.Variables = append([]string(nil), c.Variables...)
	}
	return out
}

// String renders a compact human-readable form for logs and CLI listings.
func (c Capability) String() string {
	switch c.Type {
	case KindHTTP:
		s := "http " + c.Host
		if c.PathPattern != "" {
			s += c.PathPattern
		}
		if len(c.Methods) > 0 {
			s += " [" + joinMethods(c.Methods) + "]"
		}
		return s
	case KindFile:
		ops := make([]string, len(c.Operations))
		for i, op := range c.Operations {
			ops[i] = string(op)
		}
		sort.Strings(ops)
		return fmt.Sprintf("file %s [%s]", c.Path, joinStrings(ops))
	case KindEnv:
		return "env [" + joinStrings(c.Variables) + "]"
	}
	return string(c.Type)
}

func joinMethods(ms []Method) string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return joinStrings(out)
}

func joinStrings(parts []string) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += ", "
		}
		s += p
	}
	return s
}

// ParseJSON decodes a capability from its wire form and validates it.
func ParseJSON(data []byte) (Capability, error) {
	var c Capability
	if err := json.Unmarshal(data, &c); err != nil {
		return Capability{}, fmt.Errorf("parsing capability: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Capability{}, err
	}
	return c, nil
}
