package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/snippet"
)

// jsonResponse marshals v as the tool's text content.
func jsonResponse(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("encoding result: %v", err))
	}
	return textResponse(string(data))
}

// capabilityFromRequest rebuilds a capability from the tool arguments.
// Round-tripping through JSON keeps the wire shape identical to the
// denial records the client is echoing back.
func capabilityFromRequest(request mcp.CallToolRequest) (permission.Capability, error) {
	data, err := json.Marshal(request.GetArguments())
	if err != nil {
		return permission.Capability{}, fmt.Errorf("reading arguments: %w", err)
	}
	return permission.ParseJSON(data)
}

func (s *Server) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return errorResponse("Missing or invalid 'code' argument"), nil
	}

	opts := control.ExecOptions{}
	if seconds := request.GetInt("timeout", 0); seconds > 0 {
		opts.Timeout = time.Duration(seconds) * time.Second
	}

	// The result is uniform: success and failure both come back as the
	// same JSON shape, so the client can always find the denial details.
	return jsonResponse(s.svc.ExecuteCode(ctx, code, opts)), nil
}

func (s *Server) handleGrantPermission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := capabilityFromRequest(request)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	if err := s.svc.GrantPermission(c); err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(map[string]any{"success": true, "granted": c}), nil
}

func (s *Server) handleListPermissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResponse(map[string]any{"permissions": s.svc.ListPermissions()}), nil
}

func (s *Server) handleRevokePermission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := capabilityFromRequest(request)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	removed := s.svc.RevokePermission(c)
	return jsonResponse(map[string]any{"success": true, "removed": removed}), nil
}

func (s *Server) handleSaveSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return errorResponse("Missing or invalid 'code' argument"), nil
	}

	saved, err := s.svc.SaveSnippet(name, code)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(map[string]any{
		"success":     true,
		"name":        saved.Name,
		"description": saved.Description,
	}), nil
}

func (s *Server) handleListSnippets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snippets, err := s.svc.ListSnippets()
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	type listed struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]listed, len(snippets))
	for i, sn := range snippets {
		out[i] = listed{Name: sn.Name, Description: sn.Description}
	}
	return jsonResponse(map[string]any{"snippets": out}), nil
}

func (s *Server) handleGetSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}

	sn, err := s.svc.GetSnippet(name)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(sn), nil
}

func (s *Server) handleGetSnippetTypes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}

	types, err := s.svc.SnippetTypes(ctx, name)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(map[string]any{"name": name, "functions": types}), nil
}

func (s *Server) handleDeleteSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}

	if err := s.svc.DeleteSnippet(name); err != nil {
		var notFound *snippet.NotFoundError
		if errors.As(err, &notFound) {
			return errorResponse(err.Error()), nil
		}
		return errorResponse(fmt.Sprintf("deleting snippet: %v", err)), nil
	}
	return jsonResponse(map[string]any{"success": true}), nil
}
