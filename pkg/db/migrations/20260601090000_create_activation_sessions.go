package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/db"
)

// Migration20260601090000CreateActivationSessions creates the tables
// that persist active agent sessions across restarts.
func Migration20260601090000CreateActivationSessions() db.Migration {
	return db.Migration{
		Version:     20260601090000,
		Description: "Create activation session tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS activation_state (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					schema_version INTEGER NOT NULL,
					saved_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create activation_state table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS activation_sessions (
					agent_id TEXT PRIMARY KEY,
					instance_id TEXT NOT NULL,
					role TEXT NOT NULL,
					degraded INTEGER NOT NULL DEFAULT 0,
					activated_at DATETIME NOT NULL,
					last_activity DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create activation_sessions table")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS activation_sessions"); err != nil {
				return errors.Wrap(err, "failed to drop activation_sessions table")
			}
			if _, err := tx.Exec("DROP TABLE IF EXISTS activation_state"); err != nil {
				return errors.Wrap(err, "failed to drop activation_state table")
			}
			return nil
		},
	}
}
