package activation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/rosterhq/roster/pkg/logger"
)

type sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules periodic expiry of idle sessions. The sweeper
// runs on its own schedule so sessions time out even when no caller
// touches the manager. Starting an already running sweeper is a no-op.
func (m *Manager) StartSweeper(ctx context.Context) error {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()

	if m.sweeper != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.sweepSchedule, func() {
		if n := m.SweepExpired(ctx); n > 0 {
			logger.G(ctx).WithField("expired", n).Info("expired idle agent sessions")
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", m.sweepSchedule)
	}

	c.Start()
	m.sweeper = &sweeper{cron: c}
	logger.G(ctx).WithField("schedule", m.sweepSchedule).Info("session sweeper started")
	return nil
}

// StopSweeper stops the sweeper and waits for any in-flight sweep to
// finish. Safe to call when the sweeper never started.
func (m *Manager) StopSweeper() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()

	if m.sweeper == nil {
		return
	}
	<-m.sweeper.cron.Stop().Done()
	m.sweeper = nil
}

// SweepExpired deactivates every session idle past the timeout and
// returns how many it ended. Each candidate is re-checked under its
// activation lock so a touch racing the sweep keeps the session alive.
func (m *Manager) SweepExpired(ctx context.Context) int {
	cutoff := time.Now().Add(-m.sessionTimeout)

	m.mu.RLock()
	var candidates []string
	for id, s := range m.sessions {
		if s.lastActivity.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		lock := m.lockFor(id)
		lock.Lock()
		m.mu.Lock()
		if s, ok := m.sessions[id]; ok && s.lastActivity.Before(cutoff) {
			m.removeLocked(ctx, id, "session timeout")
			m.expiredSessions++
			removed++
		}
		m.mu.Unlock()
		lock.Unlock()
	}
	return removed
}
