// Package registry maintains the catalog of registered agents. It walks
// the definition store, parses every document with best-effort fallback,
// binds an activation handler to each record, and answers lookups for
// the activation manager and the serving surfaces.
//
// Registration is deliberately forgiving: a malformed persona document
// degrades to a heuristic record instead of vanishing from the catalog.
// Only a completely unreachable definition store is fatal.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/definition"
	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// HandlerFactory builds the activation handler bound to each record at
// registration time. The default factory returns a persona handler that
// reports readiness with the definition's identity.
type HandlerFactory func(def agenttypes.Definition) agenttypes.ActivationHandler

// Registry is the explicitly owned catalog of registered agents. It is
// safe for concurrent use; records are replaced wholesale on
// re-registration and never mutated in place.
type Registry struct {
	store   *definition.Store
	factory HandlerFactory

	mu              sync.RWMutex
	agents          map[string]*agenttypes.RegisteredAgent
	initialized     bool
	lastInitialized time.Time
}

// Option configures a Registry.
type Option func(*Registry) error

// WithHandlerFactory overrides the default persona handler factory.
func WithHandlerFactory(factory HandlerFactory) Option {
	return func(r *Registry) error {
		if factory == nil {
			return errors.New("handler factory must not be nil")
		}
		r.factory = factory
		return nil
	}
}

// New creates a registry over store.
func New(store *definition.Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("definition store must not be nil")
	}

	r := &Registry{
		store:   store,
		factory: personaHandler,
		agents:  make(map[string]*agenttypes.RegisteredAgent),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, errors.Wrap(err, "failed to apply registry option")
		}
	}

	return r, nil
}

// personaHandler is the default activation handler: it captures the
// definition and reports the persona as ready with its identity.
func personaHandler(def agenttypes.Definition) agenttypes.ActivationHandler {
	return agenttypes.HandlerFunc(func(_ context.Context, actx agenttypes.ActivationContext) (*agenttypes.HandlerResult, error) {
		details := map[string]any{
			"role":   def.Role,
			"source": def.Source.String(),
		}
		if n := def.DependencyCount(); n > 0 {
			details["dependencies"] = n
		}
		for k, v := range actx {
			details["context."+k] = v
		}
		return &agenttypes.HandlerResult{
			Summary: fmt.Sprintf("%s (%s) ready", def.Name, def.ID),
			Details: details,
		}, nil
	})
}

// Initialize walks every configured definition source and registers what
// it finds. Within one walk the first document for an id wins, which
// preserves source precedence; re-running Initialize refreshes records
// in place. An entirely empty or unreachable store is a fatal error:
// nothing downstream can work without definitions.
func (r *Registry) Initialize(ctx context.Context) error {
	docs, err := r.store.Documents(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to enumerate definition sources")
	}
	if len(docs) == 0 {
		return errors.New("no agent definitions found in any configured source")
	}

	seen := make(map[string]bool)
	registered := 0
	for _, doc := range docs {
		outcome := definition.Parse(ctx, doc)
		if seen[outcome.Definition.ID] {
			logger.G(ctx).WithField("path", doc.Path).
				WithField("id", outcome.Definition.ID).
				Debug("skipping shadowed definition")
			continue
		}
		seen[outcome.Definition.ID] = true
		r.registerOutcome(outcome)
		registered++
	}

	r.mu.Lock()
	r.initialized = true
	r.lastInitialized = time.Now()
	r.mu.Unlock()

	logger.G(ctx).WithField("registered", registered).Info("agent registry initialized")
	return nil
}

// RegisterFromFile reads and registers one definition file, attributing
// it to source. Used by the watcher and by explicit re-registration;
// parse failures still register via the fallback path.
func (r *Registry) RegisterFromFile(ctx context.Context, path string, source agenttypes.Source) (*agenttypes.RegisteredAgent, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definition file %s", path)
	}

	modTime := time.Time{}
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}

	return r.RegisterFromDocument(ctx, definition.Document{
		Path:    path,
		Source:  source,
		Content: content,
		ModTime: modTime,
	}), nil
}

// RegisterFromDocument parses and registers one document. Re-registering
// an existing id overwrites the record in place, keeping the original
// registration time.
func (r *Registry) RegisterFromDocument(ctx context.Context, doc definition.Document) *agenttypes.RegisteredAgent {
	return r.registerOutcome(definition.Parse(ctx, doc))
}

// RegisterParsed registers an already-parsed outcome. Callers that need
// to inspect the parse before committing (the watcher's shadowing check)
// use this to avoid parsing twice.
func (r *Registry) RegisterParsed(outcome *definition.Outcome) *agenttypes.RegisteredAgent {
	return r.registerOutcome(outcome)
}

func (r *Registry) registerOutcome(outcome *definition.Outcome) *agenttypes.RegisteredAgent {
	now := time.Now()
	rec := &agenttypes.RegisteredAgent{
		Definition:       outcome.Definition,
		Handler:          r.factory(outcome.Definition),
		Valid:            len(outcome.Problems) == 0,
		ValidationErrors: outcome.Problems,
		FallbackParsed:   outcome.Fallback,
		RegisteredAt:     now,
		UpdatedAt:        now,
	}

	r.mu.Lock()
	if existing, ok := r.agents[rec.Definition.ID]; ok {
		rec.RegisteredAt = existing.RegisteredAt
	}
	r.agents[rec.Definition.ID] = rec
	r.mu.Unlock()

	return rec
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*agenttypes.RegisteredAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return nil, errors.Wrapf(agenttypes.ErrAgentNotFound, "agent %q", id)
	}
	return rec, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// List returns all records sorted by id.
func (r *Registry) List() []*agenttypes.RegisteredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*agenttypes.RegisteredAgent, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition.ID < out[j].Definition.ID
	})
	return out
}

// IDs returns all registered ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BySource returns the records originating from a source kind.
func (r *Registry) BySource(kind agenttypes.SourceKind) []*agenttypes.RegisteredAgent {
	var out []*agenttypes.RegisteredAgent
	for _, rec := range r.List() {
		if rec.Definition.Source.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// ByPack returns the records contributed by the named extension pack.
func (r *Registry) ByPack(name string) []*agenttypes.RegisteredAgent {
	var out []*agenttypes.RegisteredAgent
	for _, rec := range r.List() {
		if rec.Definition.Source.Kind == agenttypes.SourcePack && rec.Definition.Source.Pack == name {
			out = append(out, rec)
		}
	}
	return out
}

// Definitions returns every registered definition sorted by id, for
// graph building and bulk resolution.
func (r *Registry) Definitions() []agenttypes.Definition {
	records := r.List()
	defs := make([]agenttypes.Definition, 0, len(records))
	for _, rec := range records {
		defs = append(defs, rec.Definition)
	}
	return defs
}

// Statistics summarizes the registry contents.
type Statistics struct {
	TotalRegistered int            `json:"totalRegistered"`
	Valid           int            `json:"valid"`
	Invalid         int            `json:"invalid"`
	FallbackParsed  int            `json:"fallbackParsed"`
	Core            int            `json:"core"`
	Packs           map[string]int `json:"packs,omitempty"`
	LastInitialized time.Time      `json:"lastInitialized,omitempty"`
}

// Statistics returns aggregate counts over all registered records.
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{
		TotalRegistered: len(r.agents),
		LastInitialized: r.lastInitialized,
	}
	for _, rec := range r.agents {
		if rec.Valid {
			stats.Valid++
		} else {
			stats.Invalid++
		}
		if rec.FallbackParsed {
			stats.FallbackParsed++
		}
		if rec.Definition.Source.Kind == agenttypes.SourcePack {
			if stats.Packs == nil {
				stats.Packs = make(map[string]int)
			}
			stats.Packs[rec.Definition.Source.Pack]++
		} else {
			stats.Core++
		}
	}
	return stats
}

// Initialized reports whether Initialize has completed successfully.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Store returns the underlying definition store.
func (r *Registry) Store() *definition.Store {
	return r.store
}
