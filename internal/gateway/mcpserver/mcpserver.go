// Package mcpserver exposes the video tools of one workspace over the Model
// Context Protocol, so external MCP clients can watch, list, read and
// summarize videos with the same semantics as the chat agent.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/tools"
)

// ToolRunner executes a tool against a workspace. Implemented by
// *workspace.Service.
type ToolRunner interface {
	ExecuteTool(ctx context.Context, workspaceID uuid.UUID, name string, input map[string]any) (agent.ToolOutcome, error)
}

// Gateway serves the tools of a single workspace over MCP stdio.
type Gateway struct {
	runner      ToolRunner
	workspaceID uuid.UUID
	version     string
	logger      *slog.Logger
	mcp         *server.MCPServer
}

// NewGateway builds the MCP server and registers every tool definition.
func NewGateway(runner ToolRunner, workspaceID uuid.UUID, version string, logger *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		runner:      runner,
		workspaceID: workspaceID,
		version:     version,
		logger:      logger,
		mcp:         server.NewMCPServer("tubechat", version, server.WithToolCapabilities(false)),
	}
	for _, def := range tools.Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema of %s: %w", def.Name, err)
		}
		g.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, schema), g.handler(def.Name))
	}
	return g, nil
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *server.MCPServer { return g.mcp }

func (g *Gateway) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		g.logger.InfoContext(ctx, "mcp tool call",
			slog.String("tool", name),
			slog.String("workspace_id", g.workspaceID.String()),
		)
		outcome, err := g.runner.ExecuteTool(ctx, g.workspaceID, name, req.GetArguments())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if outcome.IsError {
			return mcp.NewToolResultError(outcome.Output), nil
		}
		return mcp.NewToolResultText(outcome.Output), nil
	}
}

// Serve speaks MCP over in and out until ctx is canceled or in is closed.
func (g *Gateway) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	g.logger.Info("mcp server starting",
		slog.String("workspace_id", g.workspaceID.String()),
		slog.String("version", g.version),
	)
	stdio := server.NewStdioServer(g.mcp)
	return stdio.Listen(ctx, in, out)
}
