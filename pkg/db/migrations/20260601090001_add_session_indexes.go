package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/db"
)

// Migration20260601090001AddSessionIndexes indexes last_activity so
// timeout sweeps stay cheap with many persisted sessions.
func Migration20260601090001AddSessionIndexes() db.Migration {
	return db.Migration{
		Version:     20260601090001,
		Description: "Add activation session indexes",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_activation_sessions_last_activity
				ON activation_sessions(last_activity)
			`)
			return errors.Wrap(err, "failed to create last_activity index")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP INDEX IF EXISTS idx_activation_sessions_last_activity")
			return errors.Wrap(err, "failed to drop last_activity index")
		},
	}
}
