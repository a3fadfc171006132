// Package mcp exposes run submission and run status over the Model Context
// Protocol, so MCP-capable assistants can start a derivative content run and
// follow it to hand-off.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
)

// RunReader loads runs.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (model.GenerationRun, error)
}

// Starter submits runs for processing.
type Starter interface {
	StartRun(ctx context.Context, runID uuid.UUID) (*pipeline.Handle, error)
}

// Server wraps the MCP server with the run store and dispatcher.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runs      RunReader
	starter   Starter
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(runs RunReader, starter Starter, logger *slog.Logger, version string) *Server {
	s := &Server{
		runs:    runs,
		starter: starter,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"recast",
		version,
		mcpserver.WithResourceCapabilities(true, false),
		mcpserver.WithToolCapabilities(false),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
