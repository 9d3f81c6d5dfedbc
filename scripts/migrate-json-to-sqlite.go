package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/db"
)

func main() {
	if err := runMigration(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migration completed successfully!")
}

func runMigration() error {
	ctx := context.Background()

	// Define paths
	jsonPath := activation.DefaultStatePath()
	sqlitePath, err := db.DefaultPath()
	if err != nil {
		return errors.Wrap(err, "failed to resolve database path")
	}

	fmt.Printf("Migrating from JSON state: %s\n", jsonPath)
	fmt.Printf("To SQLite: %s\n", sqlitePath)

	// Check if the JSON state file exists
	if _, err := os.Stat(jsonPath); os.IsNotExist(err) {
		return errors.Errorf("JSON state file not found at %s", jsonPath)
	}

	// Check if the SQLite database already exists
	if _, err := os.Stat(sqlitePath); err == nil {
		return errors.Errorf("SQLite database already exists at %s. Please remove it first or backup your data", sqlitePath)
	}

	// Read the persisted snapshot through the JSON store
	jsonStore, err := activation.NewJSONStateStore(jsonPath)
	if err != nil {
		return errors.Wrap(err, "failed to open JSON state store")
	}

	snap, err := jsonStore.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read JSON session state")
	}
	if snap == nil {
		return errors.Errorf("no session snapshot found at %s", jsonPath)
	}

	fmt.Printf("Found %d sessions in JSON state file\n", len(snap.Sessions))

	if len(snap.Sessions) == 0 {
		fmt.Println("No sessions found, creating empty SQLite database")
	}

	// Create the SQLite database and migrate data (this runs migrations)
	sqliteStore, err := activation.NewSQLiteStateStore(ctx, sqlitePath)
	if err != nil {
		return errors.Wrap(err, "failed to create SQLite store")
	}
	defer sqliteStore.Close()

	if err := sqliteStore.Save(ctx, snap); err != nil {
		return errors.Wrap(err, "failed to write sessions to SQLite")
	}

	fmt.Printf("Migrated %d sessions\n", len(snap.Sessions))
	fmt.Println("Set state_backend: sqlite in your config to use the migrated database")

	return nil
}
