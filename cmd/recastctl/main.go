// Package main provides recastctl, the operator CLI for Recast runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast/internal/config"
	"github.com/ashita-ai/recast/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:           "recastctl",
	Short:         "Operator CLI for Recast generation runs",
	Long:          "recastctl creates, processes, inspects, and finalizes personalized content generation runs, and toggles generation on or off.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openDB loads config and connects to Postgres.
func openDB(ctx context.Context) (*storage.DB, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	db, err := storage.New(ctx, cfg.DatabaseURL, newLogger())
	if err != nil {
		return nil, config.Config{}, err
	}
	return db, cfg, nil
}

func parseRunIDFlag(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--run-id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--run-id: %w", err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
