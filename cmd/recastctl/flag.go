package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast/internal/config"
	"github.com/ashita-ai/recast/internal/flags"
)

var flagCmd = &cobra.Command{
	Use:   "generation [on|off|status]",
	Short: "Turn generation on or off for every instance",
	Long:  "Read or set the generation-enabled flag in Redis. Instances pick up a change within RECAST_FLAG_TTL. New runs are refused while generation is off; runs already in progress finish.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFlag,
}

func init() {
	rootCmd.AddCommand(flagCmd)
}

func runFlag(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is not set; the flag is static (RECAST_GENERATION_ENABLED=%t)", cfg.GenerationEnabled)
	}
	src, err := flags.NewRedisSource(cfg.RedisURL, cfg.GenerationEnabled)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	if len(args) == 1 && args[0] != "status" {
		enabled, err := flags.ParseValue(args[0], cfg.GenerationEnabled)
		if err != nil {
			return fmt.Errorf("expected on, off, or status: %w", err)
		}
		if err := src.SetGenerationEnabled(ctx, enabled); err != nil {
			return err
		}
	}

	enabled, err := src.GenerationEnabled(ctx)
	if err != nil {
		return err
	}
	state := "off"
	if enabled {
		state = "on"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "generation is %s\n", state)
	return nil
}
