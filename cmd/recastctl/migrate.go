package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		db, _, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
