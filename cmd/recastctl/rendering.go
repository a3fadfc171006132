package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast/internal/config"
	"github.com/ashita-ai/recast/internal/events"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/storage"
)

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark a rendering run completed",
	Long:  "Record that media rendering finished for a run in status rendering. Equivalent to POST /v1/runs/{run_id}/complete.",
	RunE:  runComplete,
}

var failCmd = &cobra.Command{
	Use:   "fail",
	Short: "Mark a rendering run failed",
	Long:  "Record that media rendering failed for a run in status rendering. Equivalent to POST /v1/runs/{run_id}/fail.",
	RunE:  runFail,
}

var (
	renderRunID   string
	renderMessage string
)

func init() {
	completeCmd.Flags().StringVar(&renderRunID, "run-id", "", "Run ID (required)")
	failCmd.Flags().StringVar(&renderRunID, "run-id", "", "Run ID (required)")
	failCmd.Flags().StringVar(&renderMessage, "message", "", "Failure reason shown to the requester")

	rootCmd.AddCommand(completeCmd, failCmd)
}

// renderingOrchestrator builds an orchestrator that only handles rendering
// callbacks, so the same status writes and events happen as through the API.
func renderingOrchestrator(ctx context.Context, db *storage.DB, cfg config.Config, logger *slog.Logger) (*pipeline.Orchestrator, func(), error) {
	var notifier pipeline.Notifier = events.Noop{}
	cleanup := func() {}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(ctx, cfg.NATSURL, logger)
		if err != nil {
			return nil, cleanup, err
		}
		notifier = pub
		cleanup = pub.Close
	}
	o := pipeline.NewOrchestrator(pipeline.Deps{Store: db, Notifier: notifier, Logger: logger},
		pipeline.Settings{TopK: cfg.TopK, MaxRetries: cfg.MaxRetries})
	return o, cleanup, nil
}

func runComplete(cmd *cobra.Command, _ []string) error {
	id, err := parseRunIDFlag(renderRunID)
	if err != nil {
		return err
	}
	return withRendering(func(ctx context.Context, o *pipeline.Orchestrator) error {
		run, err := o.CompleteRendering(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	})
}

func runFail(cmd *cobra.Command, _ []string) error {
	id, err := parseRunIDFlag(renderRunID)
	if err != nil {
		return err
	}
	return withRendering(func(ctx context.Context, o *pipeline.Orchestrator) error {
		run, err := o.FailRendering(ctx, id, renderMessage)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	})
}

func withRendering(fn func(context.Context, *pipeline.Orchestrator) error) error {
	ctx := context.Background()
	db, cfg, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	o, cleanup, err := renderingOrchestrator(ctx, db, cfg, newLogger())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, o)
}
