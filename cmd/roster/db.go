package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/db"
	"github.com/rosterhq/roster/pkg/db/migrations"
	"github.com/rosterhq/roster/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the roster database (migrations, status, etc.)`,
}

// openDatabase resolves the database path from the --path flag and opens
// the connection.
func openDatabase(ctx context.Context, cmd *cobra.Command) (*sqlx.DB, string, error) {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		var err error
		path, err = db.DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return conn, path, nil
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	Long:  `Shows the current database migration status, including applied and pending migrations.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		conn, path, err := openDatabase(ctx, cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		applied, err := db.AppliedVersions(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		appliedMap := make(map[int64]bool)
		for _, v := range applied {
			appliedMap[v] = true
		}

		allMigrations := migrations.All()

		fmt.Println("Database Migration Status")
		fmt.Println("=========================")
		fmt.Printf("Database: %s\n\n", path)

		appliedCount := 0
		for _, m := range allMigrations {
			status := "[ ]"
			if appliedMap[m.Version] {
				status = "[✓]"
				appliedCount++
			}
			fmt.Printf("%s %d - %s\n", status, m.Version, m.Description)
		}

		fmt.Printf("\nApplied: %d/%d migrations\n", appliedCount, len(allMigrations))

		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  `Applies every pending database migration in version order. Already applied migrations are skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		conn, _, err := openDatabase(ctx, cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		before, err := db.AppliedVersions(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		if err := db.Migrate(ctx, conn, migrations.All()); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}

		after, err := db.AppliedVersions(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		if len(after) == len(before) {
			presenter.Info("No pending migrations")
			return nil
		}

		presenter.Success(fmt.Sprintf("Applied %d migrations", len(after)-len(before)))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	Long:  `Rolls back the most recently applied database migration. Useful for testing or downgrading roster.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		conn, _, err := openDatabase(ctx, cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		// Show current status first
		applied, err := db.AppliedVersions(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		if len(applied) == 0 {
			presenter.Warning("No migrations to rollback")
			return nil
		}

		lastVersion := applied[len(applied)-1]

		// Find the migration description
		var description string
		for _, m := range migrations.All() {
			if m.Version == lastVersion {
				description = m.Description
				break
			}
		}

		presenter.Info(fmt.Sprintf("Rolling back migration %d: %s", lastVersion, description))

		if err := db.Rollback(ctx, conn, migrations.All()); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}

		presenter.Success(fmt.Sprintf("Successfully rolled back migration %d", lastVersion))

		return nil
	},
}

func init() {
	dbCmd.PersistentFlags().String("path", "", "Database path (defaults to ~/.roster/storage.db)")

	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
