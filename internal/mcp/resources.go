package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const runURIPrefix = "recast://runs/"

func (s *Server) registerResources() {
	// recast://runs/{id}: a single run, including plan and script once written.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			runURIPrefix+"{id}",
			"Generation Run",
			mcplib.WithTemplateDescription("Status, plan, and script of a generation run"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunResource,
	)
}

func (s *Server) handleRunResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseRunURI(uri)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: run resource: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal run: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseRunURI extracts the run ID from recast://runs/{id}.
func parseRunURI(uri string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(uri, runURIPrefix)
	if !ok || raw == "" || strings.Contains(raw, "/") {
		return uuid.Nil, fmt.Errorf("mcp: invalid run URI: %s", uri)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid run id in URI %s: %w", uri, err)
	}
	return id, nil
}
