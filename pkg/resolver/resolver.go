// Package resolver validates the resources agent definitions declare and
// analyzes the dependency relationships across the whole agent set: which
// resources exist, which are shared, which conflict, and what order to
// load agents in so shared resources are fetched once.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// ExistenceChecker reports whether a named resource is present in a
// scope. Pack scopes hold pack-local resources; the core scope holds the
// shared base set.
type ExistenceChecker interface {
	Exists(ctx context.Context, scope agenttypes.Source, category, name string) bool
}

// Resolution is the per-agent outcome of a dependency check. Resolved
// and Missing are always non-nil; Complete is true iff Missing is empty
// across every category.
type Resolution struct {
	AgentID   string              `json:"agentId"`
	Resolved  map[string][]string `json:"resolved"`
	Missing   map[string][]string `json:"missing"`
	Errors    []string            `json:"errors,omitempty"`
	Complete  bool                `json:"complete"`
	CheckedAt time.Time           `json:"checkedAt"`
}

// Resolver performs existence checks for declared dependencies and
// caches the results per (agent id, dependency set). The cache must be
// invalidated when the underlying resource files change; the registry
// watcher does this on filesystem events.
type Resolver struct {
	checker ExistenceChecker

	mu    sync.RWMutex
	cache map[string]*Resolution
}

// New creates a resolver backed by checker.
func New(checker ExistenceChecker) *Resolver {
	return &Resolver{
		checker: checker,
		cache:   make(map[string]*Resolution),
	}
}

// Resolve checks every declared dependency of def. Pack-scoped agents
// check their own pack first, then fall back to the core scope; core
// agents check only the core scope. Agents with no declared
// dependencies resolve trivially complete.
func (r *Resolver) Resolve(ctx context.Context, def agenttypes.Definition) *Resolution {
	key := cacheKey(def)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	res := r.resolve(ctx, def)

	r.mu.Lock()
	r.cache[key] = res
	r.mu.Unlock()

	return res
}

func (r *Resolver) resolve(ctx context.Context, def agenttypes.Definition) *Resolution {
	res := &Resolution{
		AgentID:   def.ID,
		Resolved:  make(map[string][]string),
		Missing:   make(map[string][]string),
		CheckedAt: time.Now(),
	}

	scopes := []agenttypes.Source{def.Source}
	if def.Source.Kind == agenttypes.SourcePack {
		scopes = append(scopes, agenttypes.CoreSource())
	}

	categories := make([]string, 0, len(def.Dependencies))
	for category := range def.Dependencies {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		for _, name := range def.Dependencies[category] {
			if err := ctx.Err(); err != nil {
				res.Errors = append(res.Errors, err.Error())
				res.Complete = false
				return res
			}

			found := false
			for _, scope := range scopes {
				if r.checker.Exists(ctx, scope, category, name) {
					found = true
					break
				}
			}

			if found {
				res.Resolved[category] = append(res.Resolved[category], name)
			} else {
				res.Missing[category] = append(res.Missing[category], name)
			}
		}
	}

	res.Complete = len(res.Missing) == 0 && len(res.Errors) == 0

	logger.G(ctx).WithField("agent", def.ID).
		WithField("resolved", countNames(res.Resolved)).
		WithField("missing", countNames(res.Missing)).
		Debug("resolved agent dependencies")

	return res
}

// Invalidate drops cached resolutions for one agent id.
func (r *Resolver) Invalidate(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, agentID+"\x00") {
			delete(r.cache, key)
		}
	}
}

// InvalidateAll drops every cached resolution. Called when the resource
// set on disk changes.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Resolution)
}

// CacheSize returns the number of cached resolutions.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// cacheKey fingerprints the dependency set so a changed declaration
// never serves a stale resolution.
func cacheKey(def agenttypes.Definition) string {
	var b strings.Builder
	b.WriteString(def.ID)
	b.WriteByte('\x00')
	b.WriteString(def.Source.String())

	categories := make([]string, 0, len(def.Dependencies))
	for category := range def.Dependencies {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		b.WriteByte('\x00')
		b.WriteString(category)
		b.WriteByte(':')
		b.WriteString(strings.Join(def.Dependencies[category], ","))
	}

	return b.String()
}

func countNames(m map[string][]string) int {
	n := 0
	for _, names := range m {
		n += len(names)
	}
	return n
}
