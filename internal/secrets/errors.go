package secrets

import "fmt"

// UnsupportedSchemeError indicates an unrecognized reference scheme.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported secret scheme: %s", e.Scheme)
}

// InvalidReferenceError indicates a malformed secret reference.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid secret reference %q: %s", e.Reference, e.Reason)
}

// NotFoundError indicates the secret does not exist in the backend.
type NotFoundError struct {
	Reference string
	Backend   string
}

func (e *NotFoundError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("secret not found in %s: %s", e.Backend, e.Reference)
	}
	return fmt.Sprintf("secret not found: %s", e.Reference)
}

// BackendError wraps a backend failure with an actionable fix when one
// is known.
type BackendError struct {
	Backend   string
	Reference string
	Reason    string
	Fix       string
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

// ResolutionError names the environment variable whose reference failed
// to resolve.
type ResolutionError struct {
	Variable  string
	Reference string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s (%s): %v", e.Variable, e.Reference, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
