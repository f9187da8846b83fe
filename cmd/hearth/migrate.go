package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on open; this one does only that, and then finishes
any transaction writes that were interrupted.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dbPath := config.DatabasePath()

	slog.Info("Running database migrations", "database", dbPath)

	a, err := openApp(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer a.Close()

	recovered, err := a.ledger.Transactions.Recover(ctx)
	if err != nil {
		slog.Warn("Some interrupted writes could not be finished", "error", err)
	}
	if recovered > 0 {
		slog.Info("Finished interrupted writes", "count", recovered)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Database is up to date: "+dbPath))
	return nil
}
