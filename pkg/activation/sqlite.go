package activation

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/db"
	"github.com/rosterhq/roster/pkg/db/migrations"
)

// SQLiteStateStore persists activation snapshots in the shared SQLite
// database. Timestamps are stored as RFC3339Nano text so rows stay
// readable with plain sqlite3.
type SQLiteStateStore struct {
	conn *sqlx.DB
}

// NewSQLiteStateStore opens (and migrates) the session database. An
// empty path uses the default database location.
func NewSQLiteStateStore(ctx context.Context, path string) (*SQLiteStateStore, error) {
	if path == "" {
		var err error
		if path, err = db.DefaultPath(); err != nil {
			return nil, err
		}
	}

	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, migrations.All()); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLiteStateStore{conn: conn}, nil
}

func (s *SQLiteStateStore) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM activation_sessions"); err != nil {
		return errors.Wrap(err, "failed to clear previous sessions")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activation_state (id, schema_version, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version, saved_at = excluded.saved_at
	`, snap.SchemaVersion, snap.SavedAt.Format(time.RFC3339Nano)); err != nil {
		return errors.Wrap(err, "failed to save activation state")
	}

	for _, rec := range snap.Sessions {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO activation_sessions (
				agent_id, instance_id, role, degraded, activated_at, last_activity
			) VALUES (?, ?, ?, ?, ?, ?)
		`, rec.AgentID, rec.InstanceID, rec.Role, rec.Degraded,
			rec.ActivatedAt.Format(time.RFC3339Nano), rec.LastActivity.Format(time.RFC3339Nano)); err != nil {
			return errors.Wrapf(err, "failed to save session for agent %s", rec.AgentID)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStateStore) Load(ctx context.Context) (*Snapshot, error) {
	var version int
	var savedAt string
	row := s.conn.QueryRowContext(ctx, "SELECT schema_version, saved_at FROM activation_state WHERE id = 1")
	if err := row.Scan(&version, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load activation state")
	}
	if version != SchemaVersion {
		return nil, errors.Errorf("unsupported session state schema version %d", version)
	}

	snap := &Snapshot{SchemaVersion: version}
	var err error
	snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse saved at timestamp")
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT agent_id, instance_id, role, degraded, activated_at, last_activity
		FROM activation_sessions ORDER BY agent_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load activation sessions")
	}
	defer rows.Close()

	for rows.Next() {
		var rec SessionRecord
		var activatedAt, lastActivity string
		if err := rows.Scan(&rec.AgentID, &rec.InstanceID, &rec.Role, &rec.Degraded, &activatedAt, &lastActivity); err != nil {
			return nil, errors.Wrap(err, "failed to scan session row")
		}
		rec.ActivatedAt, err = time.Parse(time.RFC3339Nano, activatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse activated at timestamp")
		}
		rec.LastActivity, err = time.Parse(time.RFC3339Nano, lastActivity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse last activity timestamp")
		}
		snap.Sessions = append(snap.Sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate session rows")
	}

	return snap, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStateStore) Close() error {
	return s.conn.Close()
}
