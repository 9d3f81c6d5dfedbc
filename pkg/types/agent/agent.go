// Package agent defines the shared types for the agent lifecycle: parsed
// definitions, registry records, and the activation handler contract that
// binds the two together. It carries no behavior beyond small accessors so
// that registry, resolver, and activation packages can share these types
// without importing each other.
package agent

import (
	"context"
	"fmt"
	"time"
)

// SourceKind categorizes where a definition document came from.
type SourceKind string

const (
	// SourceCore marks definitions from the shared base set (builtin or
	// project/global agent directories).
	SourceCore SourceKind = "core"
	// SourcePack marks definitions contributed by a named extension pack.
	SourcePack SourceKind = "pack"
)

// Source identifies the origin of a definition document.
type Source struct {
	Kind SourceKind `json:"kind"`
	// Pack is the extension pack name; empty for core definitions.
	Pack string `json:"pack,omitempty"`
}

// CoreSource returns the shared base-set source.
func CoreSource() Source {
	return Source{Kind: SourceCore}
}

// PackSource returns a source for the named extension pack.
func PackSource(name string) Source {
	return Source{Kind: SourcePack, Pack: name}
}

// String renders the source as "core" or "pack:<name>".
func (s Source) String() string {
	if s.Kind == SourcePack {
		return fmt.Sprintf("pack:%s", s.Pack)
	}
	return string(SourceCore)
}

// Metadata is the structured frontmatter of a definition document.
// Fallback is set when structured parsing failed and the fields were
// derived heuristically instead (filename, first heading).
type Metadata struct {
	ID           string         `mapstructure:"id" json:"id"`
	Name         string         `mapstructure:"name" json:"name"`
	Description  string         `mapstructure:"description" json:"description"`
	Role         string         `mapstructure:"role" json:"role,omitempty"`
	Priority     string         `mapstructure:"priority" json:"priority,omitempty"`
	DependsOn    []string       `mapstructure:"depends_on" json:"dependsOn,omitempty"`
	Dependencies map[string]any `mapstructure:"dependencies" json:"-"`

	Fallback bool `mapstructure:"-" json:"fallback"`
}

// Definition is an immutable parsed agent definition.
type Definition struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Role         string              `json:"role,omitempty"`
	Source       Source              `json:"source"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	DependsOn    []string            `json:"dependsOn,omitempty"`
	HighPriority bool                `json:"highPriority,omitempty"`
	RawBody      string              `json:"-"`
	Path         string              `json:"path,omitempty"`
	LastModified time.Time           `json:"lastModified"`
}

// DependencyCount returns the number of declared resources across all
// categories.
func (d Definition) DependencyCount() int {
	n := 0
	for _, names := range d.Dependencies {
		n += len(names)
	}
	return n
}

// ActivationContext is the opaque caller-supplied key/value bag passed
// through to the activation handler and recorded on the live instance
// (e.g. user, project, phase).
type ActivationContext map[string]any

// Clone returns a shallow copy so the instance records a snapshot of the
// bag rather than aliasing the caller's map.
func (c ActivationContext) Clone() ActivationContext {
	out := make(ActivationContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// HandlerResult is what an activation handler reports on success.
type HandlerResult struct {
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}

// ActivationHandler is the capability bound to each registry record. The
// registry builds one per definition at registration time; the activation
// manager invokes it during the Activating phase.
type ActivationHandler interface {
	Activate(ctx context.Context, actx ActivationContext) (*HandlerResult, error)
}

// HandlerFunc adapts a plain function to the ActivationHandler interface.
type HandlerFunc func(ctx context.Context, actx ActivationContext) (*HandlerResult, error)

// Activate implements ActivationHandler.
func (f HandlerFunc) Activate(ctx context.Context, actx ActivationContext) (*HandlerResult, error) {
	return f(ctx, actx)
}

// RegisteredAgent wraps a Definition with its bound handler and the
// validation state accumulated at parse time. Records are only replaced
// wholesale on re-registration, never mutated in place by readers.
type RegisteredAgent struct {
	Definition       Definition        `json:"definition"`
	Handler          ActivationHandler `json:"-"`
	Valid            bool              `json:"valid"`
	ValidationErrors []string          `json:"validationErrors,omitempty"`
	FallbackParsed   bool              `json:"fallbackParsed"`
	RegisteredAt     time.Time         `json:"registeredAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}
