package permission

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cap     Capability
		wantErr string
	}{
		{
			name: "valid http",
			cap:  Capability{Type: KindHTTP, Host: "api.github.com", PathPattern: "/user", Methods: []Method{MethodGet}, Description: "github user"},
		},
		{
			name:    "http without host",
			cap:     Capability{Type: KindHTTP, Description: "x"},
			wantErr: "requires a host",
		},
		{
			name:    "http with bogus method",
			cap:     Capability{Type: KindHTTP, Host: "x.dev", Methods: []Method{"FETCH"}, Description: "x"},
			wantErr: "invalid HTTP method",
		},
		{
			name: "valid file",
			cap:  Capability{Type: KindFile, Path: "/tmp/*", Operations: []Operation{OpRead}, Description: "tmp reads"},
		},
		{
			name:    "file without operations",
			cap:     Capability{Type: KindFile, Path: "/tmp/*", Description: "x"},
			wantErr: "at least one operation",
		},
		{
			name:    "file with bogus operation",
			cap:     Capability{Type: KindFile, Path: "/tmp/*", Operations: []Operation{"execute"}, Description: "x"},
			wantErr: "invalid file operation",
		},
		{
			name: "valid env",
			cap:  Capability{Type: KindEnv, Variables: []string{"SECRET_*"}, Description: "secrets"},
		},
		{
			name:    "env without variables",
			cap:     Capability{Type: KindEnv, Description: "x"},
			wantErr: "at least one variable",
		},
		{
			name:    "missing description",
			cap:     Capability{Type: KindHTTP, Host: "x.dev"},
			wantErr: "description is required",
		},
		{
			name:    "missing type",
			cap:     Capability{Description: "x"},
			wantErr: "type is required",
		},
		{
			name:    "unknown type",
			cap:     Capability{Type: "network", Description: "x"},
			wantErr: "unknown capability type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cap.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	base := Capability{
		Type:        KindHTTP,
		Host:        "api.github.com",
		PathPattern: "/repos/*",
		Methods:     []Method{MethodGet, MethodPost},
		Description: "github",
	}

	same := base.clone()
	same.Methods = []Method{MethodPost, MethodGet} // order must not matter
	if !base.Equal(same) {
		t.Error("capabilities differing only in method order should be equal")
	}

	diffDesc := base.clone()
	diffDesc.Description = "other"
	if base.Equal(diffDesc) {
		t.Error("capabilities with different descriptions should not be equal")
	}

	diffMethods := base.clone()
	diffMethods.Methods = []Method{MethodGet}
	if base.Equal(diffMethods) {
		t.Error("capabilities with different method multisets should not be equal")
	}

	envA := Capability{Type: KindEnv, Variables: []string{"A", "B", "A"}, Description: "x"}
	envB := Capability{Type: KindEnv, Variables: []string{"A", "A", "B"}, Description: "x"}
	envC := Capability{Type: KindEnv, Variables: []string{"A", "B", "B"}, Description: "x"}
	if !envA.Equal(envB) {
		t.Error("same variable multiset in different order should be equal")
	}
	if envA.Equal(envC) {
		t.Error("different variable multisets should not be equal")
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"type":"http","host":"httpbin.org","pathPattern":"*","methods":["GET"],"description":"test"}`)
	c, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if c.Type != KindHTTP || c.Host != "httpbin.org" || c.PathPattern != "*" {
		t.Errorf("parsed capability = %+v", c)
	}
	if len(c.Methods) != 1 || c.Methods[0] != MethodGet {
		t.Errorf("parsed methods = %v, want [GET]", c.Methods)
	}

	if _, err := ParseJSON([]byte(`{"type":"http","description":"no host"}`)); err == nil {
		t.Error("ParseJSON should reject an http capability without a host")
	}
	if _, err := ParseJSON([]byte(`{not json`)); err == nil {
		t.Error("ParseJSON should reject malformed JSON")
	}
}

func TestDenialRecord(t *testing.T) {
	required := Capability{Type: KindHTTP, Host: "httpbin.org", PathPattern: "/get", Methods: []Method{MethodGet}, Description: "HTTP GET request to httpbin.org"}
	d := NewDenial(required, "fetch", map[string]any{"url": "https://httpbin.org/get", "method": "GET"})

	if d.Code != DeniedCode {
		t.Errorf("Code = %q, want %q", d.Code, DeniedCode)
	}
	if d.RequestID == "" {
		t.Error("RequestID should be populated")
	}
	if d2 := NewDenial(required, "fetch", nil); d2.RequestID == d.RequestID {
		t.Error("each denial should carry a fresh request id")
	}

	// The wire form is what the preamble echoes to stderr; field names are
	// part of the contract with the executor's stderr parser.
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"code":"PERMISSION_DENIED"`, `"requiredPermission"`, `"attemptedAction"`, `"requestId"`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("denial JSON missing %s: %s", field, raw)
		}
	}
}
