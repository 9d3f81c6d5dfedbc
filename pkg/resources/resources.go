// Package resources backs the dependency resolver's existence checks and
// loads the ancillary material attached to activated agents: steering
// documents, hook descriptors, and file-context bindings.
//
// Resources live under the same workspace roots as definitions. Core
// resources sit in category directories at the root (tasks/, templates/,
// checklists/); pack resources sit under packs/<name>/<category>/. Pack
// scopes are checked before the core scope falls back.
package resources

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Store answers resource existence queries against the workspace roots.
type Store struct {
	roots []string
}

// Option configures a Store.
type Option func(*Store) error

// WithRoots sets workspace roots, highest precedence first.
func WithRoots(roots ...string) Option {
	return func(s *Store) error {
		if len(roots) == 0 {
			return errors.New("at least one root must be specified")
		}
		s.roots = roots
		return nil
	}
}

// WithDefaultRoots sets the default roots (./.roster, ~/.roster).
func WithDefaultRoots() Option {
	return func(s *Store) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		s.roots = []string{
			"./.roster",
			filepath.Join(homeDir, ".roster"),
		}
		return nil
	}
}

// NewStore creates a resource store with optional configuration.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{}

	if len(opts) == 0 {
		if err := WithDefaultRoots()(s); err != nil {
			return nil, err
		}
		return s, nil
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "failed to apply resource store option")
		}
	}

	if len(s.roots) == 0 {
		if err := WithDefaultRoots()(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Exists reports whether a named resource is present in the scope. Names
// are tried verbatim and with a .md suffix, so declarations may spell
// either form.
func (s *Store) Exists(ctx context.Context, scope agenttypes.Source, category, name string) bool {
	if category == "" || name == "" {
		return false
	}

	candidates := []string{name}
	if !strings.Contains(name, ".") {
		candidates = append(candidates, name+".md")
	}

	for _, root := range s.roots {
		dir := filepath.Join(s.scopeDir(root, scope), category)
		for _, candidate := range candidates {
			if info, err := os.Stat(filepath.Join(dir, candidate)); err == nil && !info.IsDir() {
				return true
			}
		}
	}

	logger.G(ctx).WithField("scope", scope.String()).
		WithField("resource", category+"/"+name).
		Debug("resource not found")
	return false
}

// List returns the resource names present in a category for the scope,
// deduplicated across roots.
func (s *Store) List(_ context.Context, scope agenttypes.Source, category string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	for _, root := range s.roots {
		dir := filepath.Join(s.scopeDir(root, scope), category)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read resource directory %s", dir)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// scopeDir maps a scope onto its directory under one root.
func (s *Store) scopeDir(root string, scope agenttypes.Source) string {
	if scope.Kind == agenttypes.SourcePack {
		return filepath.Join(root, "packs", scope.Pack)
	}
	return root
}

// Roots returns the configured workspace roots in precedence order.
func (s *Store) Roots() []string {
	return s.roots
}
