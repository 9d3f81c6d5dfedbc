package activation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiredRemovesIdleSessions(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	writePersona(t, root, "qa", "Quinn")
	m := newTestManager(t, newTestRegistry(t, root), root, WithSessionTimeout(50*time.Millisecond))

	require.NotNil(t, m.Activate(context.Background(), "dev", nil).Instance)
	require.NotNil(t, m.Activate(context.Background(), "qa", nil).Instance)

	time.Sleep(100 * time.Millisecond)

	// A touch keeps qa alive through the sweep.
	require.True(t, m.Touch("qa"))

	removed := m.SweepExpired(context.Background())
	assert.Equal(t, 1, removed)

	_, ok := m.Get("dev")
	assert.False(t, ok)
	_, ok = m.Get("qa")
	assert.True(t, ok)

	stats := m.Statistics()
	assert.Equal(t, 1, stats.ExpiredSessions)
	assert.Equal(t, 1, stats.TotalDeactivations)
}

func TestSweepExpiredKeepsFreshSessions(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	m := newTestManager(t, newTestRegistry(t, root), root)

	require.NotNil(t, m.Activate(context.Background(), "dev", nil).Instance)

	assert.Equal(t, 0, m.SweepExpired(context.Background()))
	_, ok := m.Get("dev")
	assert.True(t, ok)
}

func TestTouchUnknownSession(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	m := newTestManager(t, newTestRegistry(t, root), root)

	assert.False(t, m.Touch("dev"))

	_, ok := m.LastActivity("dev")
	assert.False(t, ok)
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	m := newTestManager(t, newTestRegistry(t, root), root,
		WithSessionTimeout(10*time.Millisecond),
		WithSweepSchedule("@every 1s"))

	require.NotNil(t, m.Activate(context.Background(), "dev", nil).Instance)
	require.NoError(t, m.StartSweeper(context.Background()))
	defer m.StopSweeper()

	require.Eventually(t, func() bool {
		_, ok := m.Get("dev")
		return !ok
	}, 5*time.Second, 50*time.Millisecond, "sweeper did not expire the idle session")
}

func TestStartSweeperTwice(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	m := newTestManager(t, newTestRegistry(t, root), root)

	require.NoError(t, m.StartSweeper(context.Background()))
	require.NoError(t, m.StartSweeper(context.Background()))
	m.StopSweeper()
	// Stopping an already stopped sweeper is safe.
	m.StopSweeper()
}

func TestStartSweeperInvalidSchedule(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "dev", "James")
	m := newTestManager(t, newTestRegistry(t, root), root, WithSweepSchedule("not a schedule"))

	err := m.StartSweeper(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}
