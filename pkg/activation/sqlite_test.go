package activation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStateStore {
	t.Helper()
	store, err := NewSQLiteStateStore(context.Background(), filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStateStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	now := time.Now()
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       now,
		Sessions: []SessionRecord{
			{
				AgentID:      "qa",
				InstanceID:   newInstanceID(),
				Role:         "qa",
				Degraded:     true,
				ActivatedAt:  now.Add(-time.Hour),
				LastActivity: now.Add(-time.Minute),
			},
			{
				AgentID:      "dev",
				InstanceID:   newInstanceID(),
				Role:         "dev",
				ActivatedAt:  now.Add(-2 * time.Hour),
				LastActivity: now,
			},
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, SchemaVersion, loaded.SchemaVersion)
	assert.WithinDuration(t, now, loaded.SavedAt, time.Millisecond)

	// Rows come back ordered by agent id.
	require.Len(t, loaded.Sessions, 2)
	assert.Equal(t, "dev", loaded.Sessions[0].AgentID)
	assert.Equal(t, "qa", loaded.Sessions[1].AgentID)
	assert.True(t, loaded.Sessions[1].Degraded)
	assert.False(t, loaded.Sessions[0].Degraded)
	assert.WithinDuration(t, snap.Sessions[0].LastActivity, loaded.Sessions[1].LastActivity, time.Millisecond)
}

func TestSQLiteStateStoreReplacesPreviousSnapshot(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	first := &Snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now(),
		Sessions: []SessionRecord{
			{AgentID: "dev", InstanceID: newInstanceID(), Role: "dev", ActivatedAt: time.Now(), LastActivity: time.Now()},
			{AgentID: "qa", InstanceID: newInstanceID(), Role: "qa", ActivatedAt: time.Now(), LastActivity: time.Now()},
		},
	}
	require.NoError(t, store.Save(ctx, first))

	second := &Snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now(),
		Sessions: []SessionRecord{
			{AgentID: "pm", InstanceID: newInstanceID(), Role: "pm", ActivatedAt: time.Now(), LastActivity: time.Now()},
		},
	}
	require.NoError(t, store.Save(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, "pm", loaded.Sessions[0].AgentID)
}

func TestSQLiteStateStoreEmpty(t *testing.T) {
	store := newSQLiteStore(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestManagerPersistsThroughSQLite(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	reg := newTestRegistry(t, root)
	store := newSQLiteStore(t)

	m1 := newTestManager(t, reg, root, WithStateStore(store))
	require.NotNil(t, m1.Activate(context.Background(), "dev", nil).Instance)
	require.NoError(t, m1.SaveState(context.Background()))

	m2 := newTestManager(t, reg, root, WithStateStore(store))
	restored, err := m2.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	inst, ok := m2.Get("dev")
	require.True(t, ok)
	assert.Equal(t, "James", inst.Name)
}
