// Package definition discovers and parses agent persona definitions.
//
// Definitions are markdown files with YAML frontmatter, laid out under
// workspace roots (./.roster for the repository, ~/.roster for the user)
// plus a built-in starter set. Each root holds core definitions under
// agents/ and expansion pack definitions under packs/<name>/agents/.
// Discovery yields documents in precedence order; parsing is best effort
// and always produces a usable definition, recording problems instead of
// failing.
package definition

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

const (
	agentsDirName = "agents"
	packsDirName  = "packs"
)

// Document is a single discovered definition file, not yet parsed.
type Document struct {
	// Path is the file path, or a pseudo-path for built-in documents.
	Path    string
	Source  agenttypes.Source
	Content []byte
	ModTime time.Time
}

// Source yields definition documents from one location.
type Source interface {
	// Name identifies the source for logging and statistics.
	Name() string
	// Documents returns all definition documents in the source.
	// Unreachable sources return an empty slice, not an error.
	Documents(ctx context.Context) ([]Document, error)
}

// DirSource reads *.md definition files from a single directory.
type DirSource struct {
	dir    string
	source agenttypes.Source
}

// NewDirSource creates a source over dir, attributing documents to origin.
func NewDirSource(dir string, origin agenttypes.Source) *DirSource {
	return &DirSource{dir: dir, source: origin}
}

// Name implements Source.
func (d *DirSource) Name() string {
	return d.source.String() + ":" + d.dir
}

// Dir returns the directory this source reads from.
func (d *DirSource) Dir() string {
	return d.dir
}

// Origin returns the source attribution for documents in this directory.
func (d *DirSource) Origin() agenttypes.Source {
	return d.source
}

// Documents implements Source. A missing directory yields no documents.
func (d *DirSource) Documents(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		logger.G(ctx).WithField("dir", d.dir).Debug("definition directory not found, skipping")
		return nil, nil
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(d.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			logger.G(ctx).WithField("path", path).WithError(err).Warn("failed to read definition file, skipping")
			continue
		}

		modTime := time.Time{}
		if info, err := entry.Info(); err == nil {
			modTime = info.ModTime()
		}

		docs = append(docs, Document{
			Path:    path,
			Source:  d.source,
			Content: content,
			ModTime: modTime,
		})
	}

	return docs, nil
}

// Store discovers definition documents across workspace roots and the
// built-in set. Roots are ordered highest precedence first; within a
// root, core definitions precede expansion packs.
type Store struct {
	roots          []string
	includeBuiltin bool
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
			"./.roster", // Repository-specific (higher precedence)
			filepath.Join(homeDir, ".roster"),
		}
		return nil
	}
}

// WithBuiltin controls whether the embedded starter definitions are
// included as the lowest-precedence source. Enabled by default.
func WithBuiltin(enabled bool) Option {
	return func(s *Store) error {
		s.includeBuiltin = enabled
		return nil
	}
}

// NewStore creates a definition store with optional configuration.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{includeBuiltin: true}

	if len(opts) == 0 {
		if err := WithDefaultRoots()(s); err != nil {
			return nil, err
		}
		return s, nil
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "failed to apply definition store option")
		}
	}

	if len(s.roots) == 0 {
		if err := WithDefaultRoots()(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Roots returns the configured workspace roots in precedence order.
func (s *Store) Roots() []string {
	return s.roots
}

// Sources expands the store configuration into concrete sources in
// precedence order: per root, core agents then pack agents; the
// built-in set last.
func (s *Store) Sources(ctx context.Context) []Source {
	var sources []Source

	for _, root := range s.roots {
		sources = append(sources, NewDirSource(
			filepath.Join(root, agentsDirName),
			agenttypes.CoreSource(),
		))
		sources = append(sources, s.packSources(ctx, root)...)
	}

	if s.includeBuiltin {
		sources = append(sources, NewBuiltinSource())
	}

	return sources
}

// packSources lists per-pack agent sources under <root>/packs.
func (s *Store) packSources(ctx context.Context, root string) []Source {
	packsDir := filepath.Join(root, packsDirName)
	entries, err := os.ReadDir(packsDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, NewDirSource(
			filepath.Join(packsDir, name, agentsDirName),
			agenttypes.PackSource(name),
		))
	}

	logger.G(ctx).WithField("root", root).WithField("packs", len(sources)).Debug("discovered expansion packs")
	return sources
}

// Documents returns every discovered document in precedence order.
// Duplicate ids are not collapsed here; id assignment happens at parse
// time, so the registry keeps the first occurrence.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	for _, src := range s.Sources(ctx) {
		found, err := src.Documents(ctx)
		if err != nil {
			logger.G(ctx).WithField("source", src.Name()).WithError(err).Warn("definition source failed, skipping")
			continue
		}
		docs = append(docs, found...)
	}

	logger.G(ctx).WithField("count", len(docs)).Debug("discovered definition documents")
	return docs, nil
}
