// Package migrations contains all database migrations for roster.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/rosterhq/roster/pkg/db"
)

// All returns every registered migration in order. New migrations
// should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260601090000CreateActivationSessions(),
		Migration20260601090001AddSessionIndexes(),
	}
}
