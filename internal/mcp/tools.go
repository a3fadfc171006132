package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/storage"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("recast_start_run",
			mcplib.WithDescription(`Start generating a personalized video, podcast, or slide script for a queued run.

The run must already exist in status "queued". Generation is asynchronous:
this returns immediately, and recast_get_run reports progress. A run moves
through processing to rendering once its script is ready, or to failed with
a user-facing reason.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("UUID of the queued run"),
				mcplib.Required(),
			),
		),
		s.handleStartRun,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("recast_get_run",
			mcplib.WithDescription(`Get the current status, progress message, plan, and script of a run.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("UUID of the run"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)
}

func (s *Server) handleStartRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}

	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return lookupError(err), nil
	}
	if run.Status != model.RunStatusQueued {
		return errorResult(fmt.Sprintf("run is %s, only queued runs can be started", run.Status)), nil
	}

	handle, err := s.starter.StartRun(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrGenerationDisabled):
		return errorResult("generation is currently disabled"), nil
	case errors.Is(err, pipeline.ErrQueueFull):
		return errorResult("run queue is full, try again shortly"), nil
	default:
		s.logger.Error("mcp: start run failed", "run_id", id, "error", err)
		return errorResult("failed to start run"), nil
	}

	return jsonResult(model.StartRunResponse{
		RunID:    id,
		HandleID: handle.ID,
		Status:   run.Status,
	}), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return lookupError(err), nil
	}
	return jsonResult(run), nil
}

func lookupError(err error) *mcplib.CallToolResult {
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult("run not found")
	}
	return errorResult(fmt.Sprintf("lookup failed: %v", err))
}
