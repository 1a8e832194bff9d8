package secrets

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OnePasswordResolver resolves op:// references with `op read`. The
// op:// form is 1Password's own (vault/item/field), so references copied
// from the 1Password app work unchanged.
type OnePasswordResolver struct{}

func (r *OnePasswordResolver) Scheme() string {
	return "op"
}

func (r *OnePasswordResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := exec.LookPath("op"); err != nil {
		return "", &BackendError{
			Backend: "1Password",
			Reason:  "op CLI not found in PATH",
			Fix:     "Install from https://1password.com/downloads/command-line/ and sign in with: op signin",
		}
	}

	cmd := exec.CommandContext(ctx, "op", "read", reference)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", r.parseOpError(stderr.Bytes(), reference)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *OnePasswordResolver) parseOpError(stderr []byte, reference string) error {
	msg := string(stderr)

	switch {
	case strings.Contains(msg, "not currently signed in"),
		strings.Contains(msg, "not signed in"):
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "not signed in",
			Fix:       "Run: eval $(op signin). In CI, set OP_SERVICE_ACCOUNT_TOKEN instead.",
		}

	case strings.Contains(msg, "isn't an item"),
		strings.Contains(msg, "could not be found"):
		return &NotFoundError{
			Reference: reference,
			Backend:   "1Password",
		}

	case strings.Contains(msg, "isn't a vault"),
		strings.Contains(msg, "vault") && strings.Contains(msg, "not found"):
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "vault not found or not accessible",
			Fix:       fmt.Sprintf("No vault %q visible to this account; op vault list shows the ones that are.", opVault(reference)),
		}
	}

	return &BackendError{
		Backend:   "1Password",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

// opVault extracts the vault segment of an op://vault/item/field reference.
func opVault(reference string) string {
	rest := strings.TrimPrefix(reference, "op://")
	if vault, _, ok := strings.Cut(rest, "/"); ok && vault != "" {
		return vault
	}
	if rest != "" {
		return rest
	}
	return "unknown"
}

func init() {
	Register(&OnePasswordResolver{})
}
