package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// SchemaVersion tags persisted snapshots so a newer layout is detected
// instead of silently misread.
const SchemaVersion = 1

// SessionRecord is the persisted metadata for one active session.
// Instances are not serialized; they are rebuilt by re-activating the
// agent on load.
type SessionRecord struct {
	AgentID      string    `json:"agent_id"`
	InstanceID   string    `json:"instance_id"`
	Role         string    `json:"role"`
	Degraded     bool      `json:"degraded"`
	ActivatedAt  time.Time `json:"activated_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot is the full persisted activation state.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Sessions      []SessionRecord `json:"sessions"`
}

// StateStore persists activation snapshots. Load returns (nil, nil)
// when no snapshot has been saved yet.
type StateStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// SaveState writes the current active set to the configured store.
// Without a store it is a no-op.
func (m *Manager) SaveState(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	snap := m.snapshot()
	if err := m.store.Save(ctx, snap); err != nil {
		return errors.Wrap(err, "failed to save activation state")
	}
	logger.G(ctx).WithField("sessions", len(snap.Sessions)).Debug("activation state saved")
	return nil
}

func (m *Manager) snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{SchemaVersion: SchemaVersion, SavedAt: time.Now()}
	for id, inst := range m.instances {
		if inst.State != StateActive {
			continue
		}
		rec := SessionRecord{
			AgentID:     id,
			InstanceID:  inst.ID,
			Role:        string(inst.Role),
			Degraded:    inst.Degraded,
			ActivatedAt: inst.ActivatedAt,
		}
		if s := m.sessions[id]; s != nil {
			rec.LastActivity = s.lastActivity
		}
		snap.Sessions = append(snap.Sessions, rec)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].AgentID < snap.Sessions[j].AgentID
	})
	return snap
}

// LoadState restores a saved snapshot by re-activating each recorded
// agent through the normal activation path, then rewinding its session
// clock to the persisted activity time. Agents that can no longer be
// restored are logged and skipped. Returns how many sessions were
// restored.
func (m *Manager) LoadState(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	snap, err := m.store.Load(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load activation state")
	}
	if snap == nil {
		return 0, nil
	}

	restored := 0
	for _, rec := range snap.Sessions {
		res := m.Activate(ctx, rec.AgentID, agenttypes.ActivationContext{"restored": true})
		if res.Instance == nil {
			logger.G(ctx).WithField("agent", rec.AgentID).Warn("failed to restore agent session")
			continue
		}

		m.mu.Lock()
		if s, ok := m.sessions[rec.AgentID]; ok && !rec.LastActivity.IsZero() {
			s.lastActivity = rec.LastActivity
		}
		m.mu.Unlock()
		restored++
	}

	logger.G(ctx).WithField("restored", restored).Info("activation state restored")
	return restored, nil
}

// JSONStateStore persists snapshots as a JSON file guarded by an OS
// file lock, so concurrent processes cannot interleave writes.
type JSONStateStore struct {
	path string
}

// DefaultStatePath returns where session state is stored when no path
// is configured. ROSTER_BASE_PATH overrides the home-relative default.
func DefaultStatePath() string {
	if base := os.Getenv("ROSTER_BASE_PATH"); base != "" {
		return filepath.Join(base, "sessions.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".roster", "sessions.json")
	}
	return filepath.Join(home, ".roster", "sessions.json")
}

// NewJSONStateStore creates a file-backed state store, creating the
// parent directory if needed. An empty path uses DefaultStatePath.
func NewJSONStateStore(path string) (*JSONStateStore, error) {
	if path == "" {
		path = DefaultStatePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create state directory")
	}
	return &JSONStateStore{path: path}, nil
}

func (s *JSONStateStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session state")
	}

	if err := lockedfile.Write(s.path, bytes.NewReader(data), 0644); err != nil {
		return errors.Wrap(err, "failed to write session state file")
	}
	return nil
}

func (s *JSONStateStore) Load(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := lockedfile.Read(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session state file")
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "failed to parse session state file")
	}
	if snap.SchemaVersion != SchemaVersion {
		return nil, errors.Errorf("unsupported session state schema version %d", snap.SchemaVersion)
	}
	return &snap, nil
}
