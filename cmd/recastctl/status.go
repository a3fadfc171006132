package main

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a run",
	RunE:  runStatus,
}

var statusRunID string

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "Run ID (required)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	id, err := parseRunIDFlag(statusRunID)
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, _, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), run)
}
