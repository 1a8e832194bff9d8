package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestOnePasswordResolverScheme(t *testing.T) {
	if got := (&OnePasswordResolver{}).Scheme(); got != "op" {
		t.Errorf("Scheme() = %q, want op", got)
	}
}

func TestParseOpError(t *testing.T) {
	tests := []struct {
		name         string
		stderr       string
		wantNotFound bool
		wantReason   string
		wantFix      string
	}{
		{
			name:       "not signed in",
			stderr:     "[ERROR] 2024/01/15 10:00:00 You are not currently signed in",
			wantReason: "not signed in",
			wantFix:    "op signin",
		},
		{
			name:         "item not found",
			stderr:       `[ERROR] 2024/01/15 10:00:00 "OpenAI" isn't an item`,
			wantNotFound: true,
		},
		{
			name:         "lookup failure wording variant",
			stderr:       `[ERROR] 2024/01/15 10:00:00 item "api-key" could not be found`,
			wantNotFound: true,
		},
		{
			name:       "vault not found",
			stderr:     `[ERROR] 2024/01/15 10:00:00 "Dev" isn't a vault`,
			wantReason: "vault",
			wantFix:    "Dev",
		},
		{
			name:       "anything else passes through",
			stderr:     "some unexpected error message",
			wantReason: "some unexpected error message",
		},
	}

	r := &OnePasswordResolver{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.parseOpError([]byte(tt.stderr), "op://Dev/OpenAI/api-key")

			if tt.wantNotFound {
				var notFound *NotFoundError
				if !errors.As(err, &notFound) {
					t.Fatalf("got %T (%v), want NotFoundError", err, err)
				}
				if notFound.Backend != "1Password" {
					t.Errorf("Backend = %q, want 1Password", notFound.Backend)
				}
				return
			}

			var backendErr *BackendError
			if !errors.As(err, &backendErr) {
				t.Fatalf("got %T (%v), want BackendError", err, err)
			}
			if backendErr.Backend != "1Password" {
				t.Errorf("Backend = %q, want 1Password", backendErr.Backend)
			}
			if !strings.Contains(backendErr.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want substring %q", backendErr.Reason, tt.wantReason)
			}
			if tt.wantFix != "" && !strings.Contains(backendErr.Fix, tt.wantFix) {
				t.Errorf("Fix = %q, want substring %q", backendErr.Fix, tt.wantFix)
			}
		})
	}
}

func TestOpVault(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{ref: "op://Dev/OpenAI/api-key", want: "Dev"},
		{ref: "op://Team Vault/item/field", want: "Team Vault"},
		{ref: "op://OnlyVault", want: "OnlyVault"},
		{ref: "op://", want: "unknown"},
	}
	for _, tt := range tests {
		if got := opVault(tt.ref); got != tt.want {
			t.Errorf("opVault(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
