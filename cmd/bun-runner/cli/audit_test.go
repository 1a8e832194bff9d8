package cli

import (
	"strings"
	"testing"

	"github.com/bunrunner/bunrunner/internal/audit"
	"github.com/bunrunner/bunrunner/internal/permission"
)

func TestSummarizeEntry(t *testing.T) {
	tests := []struct {
		name string
		typ  audit.EntryType
		data any
		want string
	}{
		{
			name: "proxy deny",
			typ:  audit.EntryProxyDeny,
			data: audit.ProxyDecisionData{Method: "GET", URL: "https://example.com/a"},
			want: "GET https://example.com/a",
		},
		{
			name: "exec success",
			typ:  audit.EntryExec,
			data: audit.ExecData{Backend: "local", Bytes: 42, Success: true},
			want: "local backend, 42 bytes, ok",
		},
		{
			name: "exec failure",
			typ:  audit.EntryExec,
			data: audit.ExecData{Backend: "container", Bytes: 7, Success: false, ExitCode: 3},
			want: "exit 3",
		},
		{
			name: "grant",
			typ:  audit.EntryGrant,
			data: audit.GrantData{Capability: permission.Capability{
				Type: permission.KindHTTP, Host: "api.example.com", PathPattern: "/v1/*",
			}},
			want: "http api.example.com/v1/*",
		},
		{
			name: "clear",
			typ:  audit.EntryClear,
			data: audit.ClearData{Removed: 3},
			want: "3 removed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := audit.NewEntry(1, "", tt.typ, tt.data)
			got := summarizeEntry(e)
			if !strings.Contains(got, tt.want) {
				t.Errorf("summarizeEntry = %q, want substring %q", got, tt.want)
			}
		})
	}
}
