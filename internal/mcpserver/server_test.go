package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/executor"
	"github.com/bunrunner/bunrunner/internal/langserver"
	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/snippet"
)

// fakeController records calls and returns canned results.
type fakeController struct {
	executed  []string
	execRes   *executor.Result
	granted   []permission.Capability
	revoked   []permission.Capability
	perms     []permission.Capability
	snippets  map[string]*snippet.Snippet
	typesErr  error
	funcTypes []langserver.FunctionType
}

func newFakeController() *fakeController {
	return &fakeController{
		execRes:  &executor.Result{Success: true, Output: "ok\n"},
		snippets: make(map[string]*snippet.Snippet),
	}
}

func (f *fakeController) ExecuteCode(ctx context.Context, code string, opts control.ExecOptions) *executor.Result {
	f.executed = append(f.executed, code)
	return f.execRes
}

func (f *fakeController) GrantPermission(c permission.Capability) error {
	f.granted = append(f.granted, c)
	f.perms = append(f.perms, c)
	return nil
}

func (f *fakeController) RevokePermission(c permission.Capability) bool {
	f.revoked = append(f.revoked, c)
	for _, p := range f.perms {
		if p.Equal(c) {
			return true
		}
	}
	return false
}

func (f *fakeController) ListPermissions() []permission.Capability {
	return f.perms
}

func (f *fakeController) SaveSnippet(name, code string) (*snippet.Snippet, error) {
	if !strings.Contains(code, "@description") {
		return nil, fmt.Errorf("snippet %q has no description: add a /** @description ... */ block", name)
	}
	sn := &snippet.Snippet{Name: name, Description: "test", Code: code}
	f.snippets[name] = sn
	return sn, nil
}

func (f *fakeController) ListSnippets() ([]*snippet.Snippet, error) {
	out := make([]*snippet.Snippet, 0, len(f.snippets))
	for _, sn := range f.snippets {
		out = append(out, sn)
	}
	return out, nil
}

func (f *fakeController) GetSnippet(name string) (*snippet.Snippet, error) {
	sn, ok := f.snippets[name]
	if !ok {
		return nil, &snippet.NotFoundError{Name: name}
	}
	return sn, nil
}

func (f *fakeController) DeleteSnippet(name string) error {
	if _, ok := f.snippets[name]; !ok {
		return &snippet.NotFoundError{Name: name}
	}
	delete(f.snippets, name)
	return nil
}

func (f *fakeController) SnippetTypes(ctx context.Context, name string) ([]langserver.FunctionType, error) {
	if f.typesErr != nil {
		return nil, f.typesErr
	}
	return f.funcTypes, nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the single text content from a tool result.
func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content count = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestHandleExecuteCode(t *testing.T) {
	fake := newFakeController()
	srv := newServer(fake, "test")

	res, err := srv.handleExecuteCode(context.Background(),
		callRequest("execute_code", map[string]any{"code": "console.log('hi')", "timeout": 5}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", resultText(t, res))
	}

	var out executor.Result
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !out.Success || out.Output != "ok\n" {
		t.Errorf("result = %+v", out)
	}
	if len(fake.executed) != 1 || fake.executed[0] != "console.log('hi')" {
		t.Errorf("executed = %v", fake.executed)
	}
}

func TestHandleExecuteCodeDenialShape(t *testing.T) {
	fake := newFakeController()
	fake.execRes = &executor.Result{
		Success: false,
		Error:   "Permission denied: http httpbin.org/get [GET]",
		PermissionRequired: &permission.Capability{
			Type:        permission.KindHTTP,
			Host:        "httpbin.org",
			PathPattern: "/get",
			Methods:     []permission.Method{permission.MethodGet},
		},
		ExitCode: 1,
	}
	srv := newServer(fake, "test")

	res, err := srv.handleExecuteCode(context.Background(),
		callRequest("execute_code", map[string]any{"code": "await fetch('https://httpbin.org/get')"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	// Denials are data, not protocol errors: the client reads the
	// required capability out of the result.
	if res.IsError {
		t.Fatal("denial reported as a tool error")
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"permissionRequired"`) || !strings.Contains(text, "httpbin.org") {
		t.Errorf("denial fields missing: %s", text)
	}
}

func TestHandleExecuteCodeMissingArgument(t *testing.T) {
	srv := newServer(newFakeController(), "test")

	res, err := srv.handleExecuteCode(context.Background(),
		callRequest("execute_code", map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false for missing code argument")
	}
}

func TestHandleGrantPermission(t *testing.T) {
	fake := newFakeController()
	srv := newServer(fake, "test")

	res, err := srv.handleGrantPermission(context.Background(),
		callRequest("grant_permission", map[string]any{
			"type":        "http",
			"host":        "api.example.com",
			"pathPattern": "/v1/*",
			"methods":     []any{"GET", "POST"},
			"description": "api access",
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", resultText(t, res))
	}
	if len(fake.granted) != 1 {
		t.Fatalf("granted = %v", fake.granted)
	}
	got := fake.granted[0]
	if got.Host != "api.example.com" || got.PathPattern != "/v1/*" || len(got.Methods) != 2 {
		t.Errorf("capability = %+v", got)
	}
}

func TestHandleGrantPermissionInvalid(t *testing.T) {
	fake := newFakeController()
	srv := newServer(fake, "test")

	res, err := srv.handleGrantPermission(context.Background(),
		callRequest("grant_permission", map[string]any{"type": "http", "host": "x"})) // no description
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false for invalid capability")
	}
	if len(fake.granted) != 0 {
		t.Errorf("invalid capability reached the service: %v", fake.granted)
	}
}

func TestHandleListAndRevokePermissions(t *testing.T) {
	fake := newFakeController()
	srv := newServer(fake, "test")

	cap := map[string]any{
		"type":        "env",
		"variables":   []any{"API_*"},
		"description": "api vars",
	}
	if res, _ := srv.handleGrantPermission(context.Background(), callRequest("grant_permission", cap)); res.IsError {
		t.Fatalf("grant failed: %s", resultText(t, res))
	}

	res, err := srv.handleListPermissions(context.Background(), callRequest("list_permissions", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var listed struct {
		Permissions []permission.Capability `json:"permissions"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Permissions) != 1 || listed.Permissions[0].Type != permission.KindEnv {
		t.Errorf("permissions = %+v", listed.Permissions)
	}

	res, err = srv.handleRevokePermission(context.Background(), callRequest("revoke_permission", cap))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var revoked struct {
		Success bool `json:"success"`
		Removed bool `json:"removed"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &revoked); err != nil {
		t.Fatal(err)
	}
	if !revoked.Success || !revoked.Removed {
		t.Errorf("revoke = %+v", revoked)
	}
}

func TestHandleSnippetTools(t *testing.T) {
	fake := newFakeController()
	srv := newServer(fake, "test")
	ctx := context.Background()

	code := "/** @description greets */\nexport function greet() {}\n"
	res, _ := srv.handleSaveSnippet(ctx, callRequest("save_snippet", map[string]any{
		"name": "greeter",
		"code": code,
	}))
	if res.IsError {
		t.Fatalf("save failed: %s", resultText(t, res))
	}

	res, _ = srv.handleListSnippets(ctx, callRequest("list_snippets", nil))
	if !strings.Contains(resultText(t, res), "greeter") {
		t.Errorf("list missing snippet: %s", resultText(t, res))
	}

	res, _ = srv.handleGetSnippet(ctx, callRequest("get_snippet", map[string]any{"name": "greeter"}))
	if res.IsError {
		t.Fatalf("get failed: %s", resultText(t, res))
	}
	var sn snippet.Snippet
	if err := json.Unmarshal([]byte(resultText(t, res)), &sn); err != nil {
		t.Fatal(err)
	}
	if sn.Code != code {
		t.Errorf("code = %q", sn.Code)
	}

	res, _ = srv.handleGetSnippet(ctx, callRequest("get_snippet", map[string]any{"name": "missing"}))
	if !res.IsError {
		t.Error("get of missing snippet did not error")
	}
	if !strings.Contains(resultText(t, res), "not found") {
		t.Errorf("error text = %s", resultText(t, res))
	}

	res, _ = srv.handleDeleteSnippet(ctx, callRequest("delete_snippet", map[string]any{"name": "greeter"}))
	if res.IsError {
		t.Fatalf("delete failed: %s", resultText(t, res))
	}
	res, _ = srv.handleDeleteSnippet(ctx, callRequest("delete_snippet", map[string]any{"name": "greeter"}))
	if !res.IsError {
		t.Error("second delete did not error")
	}
}

func TestHandleGetSnippetTypes(t *testing.T) {
	fake := newFakeController()
	fake.funcTypes = []langserver.FunctionType{
		{Name: "greet", Signature: "function greet(name: string): string"},
	}
	srv := newServer(fake, "test")

	res, err := srv.handleGetSnippetTypes(context.Background(),
		callRequest("get_snippet_types", map[string]any{"name": "greeter"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "function greet(name: string): string") {
		t.Errorf("signature missing: %s", resultText(t, res))
	}
}

func TestHandleGetSnippetTypesUnavailable(t *testing.T) {
	fake := newFakeController()
	fake.typesErr = fmt.Errorf("no active container: run code with the container backend first")
	srv := newServer(fake, "test")

	res, err := srv.handleGetSnippetTypes(context.Background(),
		callRequest("get_snippet_types", map[string]any{"name": "greeter"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false when the language service is unavailable")
	}
	if !strings.Contains(resultText(t, res), "no active container") {
		t.Errorf("error text = %s", resultText(t, res))
	}
}
