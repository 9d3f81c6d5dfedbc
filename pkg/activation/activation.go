// Package activation owns the live side of the agent lifecycle: it
// turns registry records into tracked sessions, enforces the
// concurrency ceiling and singleton-role policy, times idle sessions
// out, and persists the active set across restarts.
//
// Per agent id the lifecycle is a small state machine: an id is
// inactive until an activation reserves it, activating while the
// handler runs and resources load, then active until deactivation,
// eviction, timeout, or shutdown. Failures during activation degrade
// the instance instead of failing it; the only hard refusal is the
// concurrency ceiling.
package activation

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rosterhq/roster/pkg/logger"
	"github.com/rosterhq/roster/pkg/recovery"
	"github.com/rosterhq/roster/pkg/registry"
	"github.com/rosterhq/roster/pkg/resources"
	"github.com/rosterhq/roster/pkg/roles"
	"github.com/rosterhq/roster/pkg/telemetry"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

var tracer = telemetry.Tracer("roster.activation")

const (
	// DefaultMaxActive caps how many agents may be active at once.
	DefaultMaxActive = 5
	// DefaultSessionTimeout is how long a session may sit idle before
	// the sweeper deactivates it.
	DefaultSessionTimeout = 30 * time.Minute
	// DefaultActivationTimeout bounds one activation attempt so a hung
	// handler cannot pin a concurrency slot forever.
	DefaultActivationTimeout = 30 * time.Second
	// DefaultSweepSchedule is the cron schedule for the session sweeper.
	DefaultSweepSchedule = "@every 1m"
)

// State is the observable lifecycle state of an instance.
type State string

const (
	StateActivating State = "activating"
	StateActive     State = "active"
)

// ConflictPolicy picks what happens when a second agent claims an
// occupied singleton role.
type ConflictPolicy string

const (
	// PolicyEvictOldest deactivates the current role holder and lets
	// the new agent take the role.
	PolicyEvictOldest ConflictPolicy = "evict-oldest"
	// PolicyDowngradeNew activates the new agent as a generalist so the
	// current holder keeps the role.
	PolicyDowngradeNew ConflictPolicy = "downgrade-new"
)

// Instance is one live agent session. Fields are written only while
// the instance is activating; once it is observable through Get or
// Active it no longer changes.
type Instance struct {
	ID          string                       `json:"id"`
	AgentID     string                       `json:"agent_id"`
	Name        string                       `json:"name"`
	Role        roles.Role                   `json:"role"`
	Source      agenttypes.Source            `json:"source"`
	State       State                        `json:"state"`
	ActivatedAt time.Time                    `json:"activated_at"`
	Context     agenttypes.ActivationContext `json:"context,omitempty"`
	Bundle      *resources.Bundle            `json:"-"`
	Handler     *agenttypes.HandlerResult    `json:"handler,omitempty"`
	Degraded    bool                         `json:"degraded"`
	Limitations []string                     `json:"limitations,omitempty"`
}

// Result is what every activation attempt returns. Instance is nil
// only when the activation was refused outright (ceiling reached or
// evicted mid-flight); Report is present whenever anything went wrong
// along the way, recovered or not.
type Result struct {
	Instance      *Instance        `json:"instance,omitempty"`
	Report        *recovery.Report `json:"report,omitempty"`
	Activated     bool             `json:"activated"`
	AlreadyActive bool             `json:"already_active,omitempty"`
}

type session struct {
	lastActivity time.Time
}

// Manager coordinates all active agent instances. The ceiling counter,
// role table, and session map share one mutex so a single activation
// attempt updates them atomically; per-id locks serialize activations
// of the same agent without blocking other agents.
type Manager struct {
	registry *registry.Registry
	loader   *resources.Loader
	recovery *recovery.Handler
	store    StateStore
	roleCfg  roles.Config
	policy   ConflictPolicy

	maxActive         int
	sessionTimeout    time.Duration
	activationTimeout time.Duration
	sweepSchedule     string

	mu                 sync.RWMutex
	instances          map[string]*Instance
	sessions           map[string]*session
	totalActivations   int
	totalDeactivations int
	expiredSessions    int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	cronMu  sync.Mutex
	sweeper *sweeper
}

type Option func(*Manager)

// WithMaxActive sets the concurrency ceiling.
func WithMaxActive(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxActive = n
		}
	}
}

// WithSessionTimeout sets the idle timeout for sessions.
func WithSessionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sessionTimeout = d
		}
	}
}

// WithActivationTimeout bounds a single activation attempt.
func WithActivationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.activationTimeout = d
		}
	}
}

// WithConflictPolicy sets how singleton-role collisions resolve.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(m *Manager) {
		if p != "" {
			m.policy = p
		}
	}
}

// WithRoles sets which roles are singleton.
func WithRoles(cfg roles.Config) Option {
	return func(m *Manager) {
		m.roleCfg = cfg
	}
}

// WithStateStore enables session persistence.
func WithStateStore(store StateStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithRecoveryHandler replaces the default recovery handler.
func WithRecoveryHandler(h *recovery.Handler) Option {
	return func(m *Manager) {
		if h != nil {
			m.recovery = h
		}
	}
}

// WithSweepSchedule sets the cron schedule for the session sweeper.
func WithSweepSchedule(schedule string) Option {
	return func(m *Manager) {
		if schedule != "" {
			m.sweepSchedule = schedule
		}
	}
}

// NewManager creates an activation manager over a registry. The loader
// supplies steering and hook bundles for activated agents.
func NewManager(reg *registry.Registry, loader *resources.Loader, opts ...Option) (*Manager, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if loader == nil {
		return nil, errors.New("resource loader is required")
	}

	m := &Manager{
		registry:          reg,
		loader:            loader,
		recovery:          recovery.NewHandler(),
		roleCfg:           roles.DefaultConfig(),
		policy:            PolicyEvictOldest,
		maxActive:         DefaultMaxActive,
		sessionTimeout:    DefaultSessionTimeout,
		activationTimeout: DefaultActivationTimeout,
		sweepSchedule:     DefaultSweepSchedule,
		instances:         make(map[string]*Instance),
		sessions:          make(map[string]*session),
		locks:             make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Activate brings an agent to life. An unknown id is not fatal: the
// instance is created degraded with only generic guidance bound.
// Re-activating an active id returns the existing instance unchanged.
// The only hard refusal is the concurrency ceiling.
func (m *Manager) Activate(ctx context.Context, id string, actx agenttypes.ActivationContext) *Result {
	ctx, span := tracer.Start(
		ctx,
		fmt.Sprintf("activation.activate.%s", id),
		trace.WithAttributes(attribute.String("agent.id", id)),
	)
	defer span.End()

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	log := logger.G(ctx).WithField("agent", id)

	rec, lookupErr := m.registry.Get(id)

	var report *recovery.Report
	if lookupErr != nil {
		report = m.recovery.Handle(ctx, lookupErr, recovery.Context{AgentID: id, Phase: recovery.PhaseLookup}, nil)
		log.Debug("agent unknown, attempting fallback activation")
	}

	now := time.Now()
	inst := &Instance{
		ID:          newInstanceID(),
		AgentID:     id,
		Name:        id,
		Role:        roles.Generalist,
		Source:      agenttypes.CoreSource(),
		State:       StateActivating,
		ActivatedAt: now,
		Context:     actx.Clone(),
	}
	if rec != nil {
		inst.Name = rec.Definition.Name
		inst.Role = roles.Role(rec.Definition.Role)
		inst.Source = rec.Definition.Source
	} else {
		inst.Degraded = true
		inst.Limitations = append(inst.Limitations, "agent definition not found, only generic guidance is loaded")
	}

	// Admission: the idempotency check, ceiling, and role table are
	// consulted and the slot reserved in one critical section.
	m.mu.Lock()
	if existing, ok := m.instances[id]; ok {
		if s := m.sessions[id]; s != nil {
			s.lastActivity = now
		}
		m.mu.Unlock()
		log.Debug("agent already active")
		return &Result{Instance: existing, AlreadyActive: true}
	}

	if len(m.instances) >= m.maxActive {
		active := len(m.instances)
		m.mu.Unlock()
		cause := errors.Wrapf(agenttypes.ErrResourceExhausted, "%d agents active, limit is %d", active, m.maxActive)
		telemetry.RecordError(ctx, cause)
		return &Result{Report: m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseAdmission}, nil)}
	}

	if m.roleCfg.IsSingleton(inst.Role) {
		if holder := m.holderOfLocked(inst.Role, id); holder != nil {
			cause := errors.Wrapf(agenttypes.ErrRoleConflict, "agent %s already holds singleton role %s", holder.AgentID, inst.Role)
			report = m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseAdmission}, nil)
			report.Recovered = true

			switch m.policy {
			case PolicyDowngradeNew:
				report.Resolution = fmt.Sprintf("activated %s as a generalist, %s keeps the %s role", id, holder.AgentID, inst.Role)
				inst.Limitations = append(inst.Limitations, fmt.Sprintf("activated outside the %s role, which %s holds", inst.Role, holder.AgentID))
				inst.Role = roles.Generalist
			default:
				report.Resolution = fmt.Sprintf("evicted %s to free the %s role", holder.AgentID, inst.Role)
				m.removeLocked(ctx, holder.AgentID, "singleton role conflict")
			}
			log.WithField("resolution", report.Resolution).Info("singleton role conflict resolved")
			telemetry.AddEvent(ctx, "singleton_role_conflict",
				attribute.String("resolution", report.Resolution),
			)
		}
	}

	m.instances[id] = inst
	m.sessions[id] = &session{lastActivity: now}
	m.totalActivations++
	m.mu.Unlock()

	telemetry.AddEvent(ctx, "admission_complete",
		attribute.String("role", string(inst.Role)),
	)

	// Handler and resource loading run without the manager lock so
	// other agents can activate concurrently.
	if rec != nil && rec.Handler != nil {
		if m.recovery.BreakerOpen(id) {
			log.Warn("activation handler circuit open, skipping handler")
			cause := errors.Wrap(agenttypes.ErrHandlerFailed, "activation handler suspended by circuit breaker")
			report = m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseHandler}, nil)
			report.BreakerOpen = true
			inst.Degraded = true
			inst.Limitations = append(inst.Limitations, "persona handler suspended after repeated failures, running with definition defaults")
		} else {
			hres, err := m.invokeHandler(ctx, rec.Handler, actx)
			if err != nil {
				cause := errors.Wrap(agenttypes.ErrHandlerFailed, err.Error())
				report = m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseHandler},
					func(rctx context.Context) error {
						res, retryErr := m.invokeHandler(rctx, rec.Handler, actx)
						if retryErr == nil {
							hres = res
						}
						return retryErr
					})
				if !report.Recovered {
					inst.Degraded = true
					inst.Limitations = append(inst.Limitations, "persona handler did not complete, running with definition defaults")
				}
			}
			inst.Handler = hres
			telemetry.AddEvent(ctx, "handler_complete")
		}
	}

	if rec != nil {
		bundle, err := m.loader.LoadBundle(ctx, id, inst.Source)
		if err != nil {
			cause := errors.Wrap(agenttypes.ErrResourceLoading, err.Error())
			report = m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseResources},
				func(rctx context.Context) error {
					b, retryErr := m.loader.LoadBundle(rctx, id, inst.Source)
					if retryErr == nil {
						bundle = b
					}
					return retryErr
				})
			if !report.Recovered {
				bundle = resources.GenericBundle(id)
				inst.Degraded = true
				inst.Limitations = append(inst.Limitations, "steering and hooks unavailable, using generic guidance")
			}
		}
		inst.Bundle = bundle

		// Missing declared resources do not block activation, but the
		// instance must say what it is running without.
		if missing := m.loader.MissingDependencies(ctx, rec.Definition); len(missing) > 0 {
			inst.Limitations = append(inst.Limitations,
				fmt.Sprintf("declared dependencies unresolved: %s", strings.Join(missing, ", ")))
		}
		telemetry.AddEvent(ctx, "resources_loaded",
			attribute.Int("steering_docs", len(bundle.Steering)),
			attribute.Int("hooks", len(bundle.Hooks)),
		)
	} else {
		inst.Bundle = resources.GenericBundle(id)
	}

	// Commit. A competing singleton activation may have evicted the
	// reservation while the handler ran.
	m.mu.Lock()
	if current, ok := m.instances[id]; !ok || current != inst {
		m.mu.Unlock()
		cause := errors.Wrapf(agenttypes.ErrRoleConflict, "agent %s was evicted while activating", id)
		telemetry.RecordError(ctx, cause)
		return &Result{Report: m.recovery.Handle(ctx, cause, recovery.Context{AgentID: id, Phase: recovery.PhaseAdmission}, nil)}
	}
	inst.State = StateActive
	m.mu.Unlock()

	telemetry.SetAttributes(ctx,
		attribute.String("agent.role", string(inst.Role)),
		attribute.Bool("agent.degraded", inst.Degraded),
	)
	log.WithField("role", string(inst.Role)).
		WithField("degraded", inst.Degraded).
		Info("agent activated")
	return &Result{Instance: inst, Report: report, Activated: true}
}

// Deactivate ends an agent's session. Deactivating an inactive id is a
// no-op; the return reports whether a session actually ended.
func (m *Manager) Deactivate(ctx context.Context, id string) bool {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; !ok {
		return false
	}
	m.removeLocked(ctx, id, "deactivated")
	return true
}

// Get returns the active instance for an agent id.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok || inst.State != StateActive {
		return nil, false
	}
	return inst, true
}

// Active lists every active instance sorted by agent id.
func (m *Manager) Active() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if inst.State == StateActive {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ActiveIDs lists active agent ids sorted.
func (m *Manager) ActiveIDs() []string {
	active := m.Active()
	ids := make([]string, 0, len(active))
	for _, inst := range active {
		ids = append(ids, inst.AgentID)
	}
	return ids
}

// Touch refreshes an agent's session activity, extending its timeout
// window. Returns false when the agent has no session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.lastActivity = time.Now()
	return true
}

// LastActivity returns when an agent's session was last touched.
func (m *Manager) LastActivity(id string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return time.Time{}, false
	}
	return s.lastActivity, true
}

// Statistics reports the current active set and lifetime counters.
type Statistics struct {
	Active             int            `json:"active"`
	MaxActive          int            `json:"max_active"`
	ActiveIDs          []string       `json:"active_ids"`
	ByRole             map[string]int `json:"by_role,omitempty"`
	Degraded           int            `json:"degraded"`
	TotalActivations   int            `json:"total_activations"`
	TotalDeactivations int            `json:"total_deactivations"`
	ExpiredSessions    int            `json:"expired_sessions"`
	Recovery           recovery.Stats `json:"recovery"`
}

// Statistics returns a read-only snapshot of the manager's counters.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	stats := Statistics{
		MaxActive:          m.maxActive,
		ByRole:             make(map[string]int),
		TotalActivations:   m.totalActivations,
		TotalDeactivations: m.totalDeactivations,
		ExpiredSessions:    m.expiredSessions,
	}
	for id, inst := range m.instances {
		if inst.State != StateActive {
			continue
		}
		stats.Active++
		stats.ActiveIDs = append(stats.ActiveIDs, id)
		stats.ByRole[string(inst.Role)]++
		if inst.Degraded {
			stats.Degraded++
		}
	}
	m.mu.RUnlock()

	sort.Strings(stats.ActiveIDs)
	stats.Recovery = m.recovery.Stats()
	return stats
}

// Recovery exposes the manager's recovery handler.
func (m *Manager) Recovery() *recovery.Handler {
	return m.recovery
}

// DefinitionChanged clears the failure history of an agent whose
// definition was edited, so the next activation runs its handler even
// if the circuit had opened.
func (m *Manager) DefinitionChanged(id string) {
	m.recovery.ResetBreaker(id)
}

// Shutdown persists session state best-effort, then deactivates every
// active agent and releases the state store.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopSweeper()

	var errs *multierror.Error
	if err := m.SaveState(ctx); err != nil {
		errs = multierror.Append(errs, err)
		logger.G(ctx).WithError(err).Warn("failed to save session state during shutdown")
	}

	for _, id := range m.ActiveIDs() {
		m.Deactivate(ctx, id)
	}

	if closer, ok := m.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "failed to close state store"))
		}
	}

	logger.G(ctx).Info("activation manager shut down")
	return errs.ErrorOrNil()
}

type handlerOutcome struct {
	res *agenttypes.HandlerResult
	err error
}

// invokeHandler runs the bound activation handler with a hard timeout
// and converts panics to errors so a broken handler degrades the
// instance instead of taking the process down.
func (m *Manager) invokeHandler(ctx context.Context, handler agenttypes.ActivationHandler, actx agenttypes.ActivationContext) (*agenttypes.HandlerResult, error) {
	hctx, cancel := context.WithTimeout(ctx, m.activationTimeout)
	defer cancel()

	out := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- handlerOutcome{err: errors.Errorf("activation handler panicked: %v", r)}
			}
		}()
		res, err := handler.Activate(hctx, actx)
		out <- handlerOutcome{res: res, err: err}
	}()

	select {
	case o := <-out:
		return o.res, o.err
	case <-hctx.Done():
		return nil, errors.Wrap(hctx.Err(), "activation handler timed out")
	}
}

// holderOfLocked finds the instance currently holding a role, skipping
// the candidate itself. Caller holds m.mu.
func (m *Manager) holderOfLocked(role roles.Role, excludeID string) *Instance {
	for id, inst := range m.instances {
		if id == excludeID {
			continue
		}
		if inst.Role == role {
			return inst
		}
	}
	return nil
}

// removeLocked drops an agent's instance and session. Caller holds m.mu.
// The agent's circuit breaker is left alone: failure history must
// survive deactivation or a broken handler gets re-run every cycle.
func (m *Manager) removeLocked(ctx context.Context, id, reason string) {
	delete(m.instances, id)
	delete(m.sessions, id)
	m.totalDeactivations++
	logger.G(ctx).WithField("agent", id).WithField("reason", reason).Info("agent deactivated")
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	lk, ok := m.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[id] = lk
	}
	return lk
}

func newInstanceID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
