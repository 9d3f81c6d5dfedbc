package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/rosterhq/roster/pkg/logger"
)

const (
	defaultAttempts        = 3
	defaultDelay           = time.Second
	defaultBreakerTrip     = 3
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = time.Minute
)

// Context tells the handler which agent failed and where.
type Context struct {
	AgentID string
	Phase   Phase
}

// Report describes one handled failure: how it was classified, whether
// retries recovered it, and what the user can do next.
type Report struct {
	AgentID   string   `json:"agent_id,omitempty"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Cause     string   `json:"cause,omitempty"`
	Recovered bool     `json:"recovered"`
	// Resolution is set by callers whose own policy resolved the
	// failure (e.g. evicting a conflicting role holder).
	Resolution           string           `json:"resolution,omitempty"`
	Attempts             int              `json:"attempts"`
	BreakerOpen          bool             `json:"breaker_open,omitempty"`
	FallbackSuggested    bool             `json:"fallback_suggested"`
	TroubleshootingSteps []string         `json:"troubleshooting_steps,omitempty"`
	ManualOverrides      []ManualOverride `json:"manual_overrides,omitempty"`
}

// Stats aggregates every failure the handler has seen.
type Stats struct {
	Total      int              `json:"total"`
	Recovered  int              `json:"recovered"`
	ByCategory map[Category]int `json:"by_category"`
	ByAgent    map[string]int   `json:"by_agent"`
}

// Handler retries recoverable failures with a fixed delay and guards
// each agent with its own circuit breaker so a persistently broken
// definition stops consuming retry budget.
type Handler struct {
	attempts        uint
	delay           time.Duration
	breakerTrip     uint32
	breakerTimeout  time.Duration
	breakerInterval time.Duration

	mu         sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[struct{}]
	total      int
	recovered  int
	byCategory map[Category]int
	byAgent    map[string]int
}

type Option func(*Handler)

// WithAttempts sets how many times a recoverable operation runs before
// giving up. Zero keeps the default.
func WithAttempts(n uint) Option {
	return func(h *Handler) {
		if n > 0 {
			h.attempts = n
		}
	}
}

// WithDelay sets the fixed pause between retry attempts.
func WithDelay(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.delay = d
		}
	}
}

// WithBreakerThreshold sets how many consecutive failed recovery cycles
// open an agent's circuit.
func WithBreakerThreshold(failures uint32) Option {
	return func(h *Handler) {
		if failures > 0 {
			h.breakerTrip = failures
		}
	}
}

// WithBreakerTimeout sets how long an open circuit waits before
// allowing a probe.
func WithBreakerTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.breakerTimeout = d
		}
	}
}

// NewHandler creates a recovery handler with bounded retries.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		attempts:        defaultAttempts,
		delay:           defaultDelay,
		breakerTrip:     defaultBreakerTrip,
		breakerTimeout:  defaultBreakerTimeout,
		breakerInterval: defaultBreakerInterval,
		breakers:        make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		byCategory:      make(map[Category]int),
		byAgent:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle classifies cause and, for recoverable categories, re-runs op
// behind the agent's circuit breaker until it succeeds or the attempt
// budget runs out. Returns nil only for a nil cause; every real failure
// produces a report, recovered or not.
func (h *Handler) Handle(ctx context.Context, cause error, rctx Context, op func(context.Context) error) *Report {
	if cause == nil {
		return nil
	}

	category := Classify(cause, rctx.Phase)
	desc := Describe(category)
	report := &Report{
		AgentID:              rctx.AgentID,
		Category:             category,
		Severity:             desc.Severity,
		Message:              desc.Message,
		Cause:                cause.Error(),
		FallbackSuggested:    desc.fallbackSuggested,
		TroubleshootingSteps: desc.TroubleshootingSteps,
		ManualOverrides:      desc.ManualOverrides,
	}
	h.count(category, rctx.AgentID)

	log := logger.G(ctx).
		WithField("agent", rctx.AgentID).
		WithField("category", string(category))

	if !desc.Recoverable || op == nil {
		log.WithError(cause).Debug("failure is not auto-recoverable")
		return report
	}

	_, err := h.breakerFor(rctx.AgentID).Execute(func() (struct{}, error) {
		return struct{}{}, h.retry(ctx, rctx, report, op)
	})
	if err == nil {
		report.Recovered = true
		report.FallbackSuggested = false
		h.countRecovered()
		log.WithField("attempts", report.Attempts).Info("recovered after retry")
		return report
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		report.BreakerOpen = true
		log.Warn("circuit open, skipping retries")
		return report
	}

	log.WithError(err).WithField("attempts", report.Attempts).Warn("retry attempts exhausted")
	return report
}

func (h *Handler) retry(ctx context.Context, rctx Context, report *Report, op func(context.Context) error) error {
	return retry.Do(
		func() error {
			report.Attempts++
			return op(ctx)
		},
		retry.Attempts(h.attempts),
		retry.Delay(h.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("agent", rctx.AgentID).
				WithField("attempt", n+1).
				WithField("max_attempts", h.attempts).
				Warn("retrying recoverable activation step")
		}),
	)
}

func (h *Handler) breakerFor(agentID string) *gobreaker.CircuitBreaker[struct{}] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if br, ok := h.breakers[agentID]; ok {
		return br
	}

	trip := h.breakerTrip
	br := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "agent:" + agentID,
		MaxRequests: 1,
		Interval:    h.breakerInterval,
		Timeout:     h.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.G(context.Background()).
				WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("recovery circuit state change")
		},
	})
	h.breakers[agentID] = br
	return br
}

// BreakerState reports the circuit state for an agent. The second
// return is false when no failure has created a breaker yet.
func (h *Handler) BreakerState(agentID string) (gobreaker.State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	br, ok := h.breakers[agentID]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return br.State(), true
}

// BreakerOpen reports whether an agent's circuit is currently open.
func (h *Handler) BreakerOpen(agentID string) bool {
	state, tracked := h.BreakerState(agentID)
	return tracked && state == gobreaker.StateOpen
}

// ResetBreaker discards an agent's breaker so the next failure starts
// from a closed circuit. Called when the agent's definition changes;
// deactivation deliberately keeps the breaker, so re-activating a
// broken agent does not re-run its failing handler.
func (h *Handler) ResetBreaker(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.breakers, agentID)
}

func (h *Handler) count(category Category, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	h.byCategory[category]++
	if agentID != "" {
		h.byAgent[agentID]++
	}
}

func (h *Handler) countRecovered() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recovered++
}

// Stats returns a copy of the accumulated failure counts.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{
		Total:      h.total,
		Recovered:  h.recovered,
		ByCategory: make(map[Category]int, len(h.byCategory)),
		ByAgent:    make(map[string]int, len(h.byAgent)),
	}
	for c, n := range h.byCategory {
		stats.ByCategory[c] = n
	}
	for a, n := range h.byAgent {
		stats.ByAgent[a] = n
	}
	return stats
}
