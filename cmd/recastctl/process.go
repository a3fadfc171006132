package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast"
	"github.com/ashita-ai/recast/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one queued run through the pipeline in the foreground",
	Long:  "Process a queued run synchronously: retrieve context, plan, write the script, and check policy. A transient failure requeues the run and is reported as such.",
	RunE:  runProcess,
}

var processRunID string

func init() {
	processCmd.Flags().StringVar(&processRunID, "run-id", "", "Run ID (required)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	id, err := parseRunIDFlag(processRunID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := recast.New(recast.WithLogger(newLogger()), recast.WithVersion("recastctl"))
	if err != nil {
		return err
	}
	defer app.Close()

	err = app.Process(ctx, id)
	var retry *pipeline.RetryScheduledError
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "run handed off to rendering")
		return nil
	case errors.As(err, &retry):
		fmt.Fprintf(cmd.OutOrStdout(), "run requeued for retry %d: %v\n", retry.RetryCount, retry.Err)
		return nil
	default:
		return fmt.Errorf("process: %w", err)
	}
}
