// Package mcpserver exposes the bun-runner control surface as MCP tools
// over stdio. Stdout belongs to the protocol; all logging goes through
// the log package to stderr.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bunrunner/bunrunner/internal/control"
	"github.com/bunrunner/bunrunner/internal/executor"
	"github.com/bunrunner/bunrunner/internal/langserver"
	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/permission"
	"github.com/bunrunner/bunrunner/internal/snippet"
)

// controller is the slice of control.Service the tools drive. Narrowed
// so handler tests can substitute a fake.
type controller interface {
	ExecuteCode(ctx context.Context, code string, opts control.ExecOptions) *executor.Result
	GrantPermission(c permission.Capability) error
	RevokePermission(c permission.Capability) bool
	ListPermissions() []permission.Capability
	SaveSnippet(name, code string) (*snippet.Snippet, error)
	ListSnippets() ([]*snippet.Snippet, error)
	GetSnippet(name string) (*snippet.Snippet, error)
	DeleteSnippet(name string) error
	SnippetTypes(ctx context.Context, name string) ([]langserver.FunctionType, error)
}

// Server wraps the MCP server and the bun-runner tools.
type Server struct {
	mcpServer *server.MCPServer
	svc       controller
	version   string
}

// New creates the MCP server and registers every tool.
func New(svc *control.Service, version string) *Server {
	return newServer(svc, version)
}

func newServer(svc controller, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("bun-runner", version),
		svc:       svc,
		version:   version,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	capabilityProperties := map[string]interface{}{
		"type": map[string]interface{}{
			"type":        "string",
			"description": "Capability kind: http, file, or env",
		},
		"description": map[string]interface{}{
			"type":        "string",
			"description": "Human-readable reason for the grant",
		},
		"host": map[string]interface{}{
			"type":        "string",
			"description": "Hostname for http capabilities (e.g. api.example.com)",
		},
		"pathPattern": map[string]interface{}{
			"type":        "string",
			"description": "Path glob for http capabilities; * matches within one segment",
		},
		"methods": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Allowed HTTP methods; empty means all",
		},
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Path glob for file capabilities",
		},
		"operations": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "File operations: read, write",
		},
		"variables": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Environment variable name globs for env capabilities",
		},
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "execute_code",
		Description: "Execute TypeScript/JavaScript in the bun sandbox. Network access requires granted permissions; denied requests return the exact capability to grant.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The TypeScript or JavaScript source to run",
				},
				"timeout": map[string]interface{}{
					"type":        "number",
					"description": "Execution timeout in seconds (default 30)",
				},
			},
			Required: []string{"code"},
		},
	}, s.handleExecuteCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "grant_permission",
		Description: "Grant a capability (http, file, or env) for the rest of this session. Use the requiredPermission from a denial verbatim.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: capabilityProperties,
			Required:   []string{"type", "description"},
		},
	}, s.handleGrantPermission)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_permissions",
		Description: "List the currently granted capabilities.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListPermissions)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "revoke_permission",
		Description: "Revoke a previously granted capability. The capability must match the grant exactly.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: capabilityProperties,
			Required:   []string{"type", "description"},
		},
	}, s.handleRevokePermission)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "save_snippet",
		Description: "Save a reusable code snippet. The code must carry a /** @description ... */ block; reference it later with // @use-snippet: <name>.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Snippet name (letters, digits, - and _)",
				},
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The snippet source, including its @description block",
				},
			},
			Required: []string{"name", "code"},
		},
	}, s.handleSaveSnippet)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_snippets",
		Description: "List saved snippets with their descriptions.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListSnippets)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_snippet",
		Description: "Retrieve a saved snippet's full source.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Snippet name",
				},
			},
			Required: []string{"name"},
		},
	}, s.handleGetSnippet)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_snippet_types",
		Description: "Report the exported function signatures of a saved snippet. Requires the container backend with an active container.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Snippet name",
				},
			},
			Required: []string{"name"},
		},
	}, s.handleGetSnippetTypes)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_snippet",
		Description: "Delete a saved snippet.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Snippet name",
				},
			},
			Required: []string{"name"},
		},
	}, s.handleDeleteSnippet)
}

// Run serves the MCP protocol on stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	log.Info("starting MCP server", "version", s.version)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
