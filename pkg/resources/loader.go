package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Steering inclusion modes. Always-included documents bind to every
// matching agent; fileMatch documents bind as file-context rules and
// load when a matching file is in play; manual documents only load on
// explicit request.
const (
	InclusionAlways    = "always"
	InclusionFileMatch = "fileMatch"
	InclusionManual    = "manual"
)

// SteeringDoc is one guidance document bound to an activated agent.
type SteeringDoc struct {
	Name      string `json:"name"`
	Inclusion string `json:"inclusion"`
	// Pattern is the fileMatch pattern; empty for other inclusion modes.
	Pattern string `json:"pattern,omitempty"`
	Content string `json:"content"`
	Path    string `json:"path,omitempty"`
}

// Matches reports whether a fileMatch document applies to path.
func (d SteeringDoc) Matches(path string) bool {
	if d.Inclusion != InclusionFileMatch || d.Pattern == "" {
		return false
	}
	ok, err := doublestar.Match(d.Pattern, filepath.ToSlash(path))
	return err == nil && ok
}

// HookDescriptor is a declarative trigger attached to an activated
// agent: when an event fires for a file matching Trigger, Command runs.
type HookDescriptor struct {
	Name    string   `json:"name"`
	Events  []string `json:"events,omitempty"`
	Trigger string   `json:"trigger,omitempty"`
	Command string   `json:"command"`
	Path    string   `json:"path,omitempty"`

	matcher glob.Glob
}

// MatchesFile reports whether the hook's trigger covers path.
func (h HookDescriptor) MatchesFile(path string) bool {
	if h.matcher == nil {
		return h.Trigger == ""
	}
	return h.matcher.Match(filepath.ToSlash(path))
}

// FileContext binds a file pattern to the steering document that should
// load when a matching file is in play.
type FileContext struct {
	Pattern     string `json:"pattern"`
	SteeringDoc string `json:"steeringDoc"`
}

// Bundle is everything loaded for one activated agent.
type Bundle struct {
	AgentID      string           `json:"agentId"`
	Steering     []SteeringDoc    `json:"steering,omitempty"`
	Hooks        []HookDescriptor `json:"hooks,omitempty"`
	FileContexts []FileContext    `json:"fileContexts,omitempty"`
	// Generic is set when only the built-in generic guidance could be
	// bound, either because nothing matched or the agent is unknown.
	Generic bool `json:"generic,omitempty"`
}

// genericGuidance is bound when no steering matches an agent, and is the
// whole of a steering-fallback activation for unknown ids.
const genericGuidance = `# General Guidance

No steering documents are bound to this agent. Operate conservatively:

- State your role and what you can help with before acting.
- Prefer asking for a concrete task over guessing intent.
- Surface limitations explicitly instead of working around them silently.
`

// GenericBundle returns the reduced bundle used for steering-fallback
// activations.
func GenericBundle(agentID string) *Bundle {
	return &Bundle{
		AgentID: agentID,
		Steering: []SteeringDoc{{
			Name:      "general-guidance",
			Inclusion: InclusionAlways,
			Content:   genericGuidance,
		}},
		Generic: true,
	}
}

// Loader assembles activation bundles from the workspace roots.
type Loader struct {
	store *Store
}

// NewLoader creates a loader over the same roots as store.
func NewLoader(store *Store) *Loader {
	return &Loader{store: store}
}

// LoadBundle gathers the steering documents, hooks, and file contexts
// for an agent. Pack-scoped agents see their pack's resources before the
// shared ones; documents with the same name are taken from the highest
// precedence location only. When nothing matches, the generic guidance
// document is bound instead.
func (l *Loader) LoadBundle(ctx context.Context, agentID string, scope agenttypes.Source) (*Bundle, error) {
	bundle := &Bundle{AgentID: agentID}

	// Names are claimed on first encounter so a higher-precedence file
	// shadows lower ones even when it does not apply to this agent.
	seenSteering := make(map[string]bool)
	for _, dir := range l.scopedDirs(scope, "steering") {
		if err := l.loadSteering(ctx, dir, agentID, bundle, seenSteering); err != nil {
			return nil, err
		}
	}

	seenHooks := make(map[string]bool)
	for _, dir := range l.scopedDirs(scope, "hooks") {
		if err := l.loadHooks(ctx, dir, bundle, seenHooks); err != nil {
			return nil, err
		}
	}

	for _, doc := range bundle.Steering {
		if doc.Inclusion == InclusionFileMatch {
			bundle.FileContexts = append(bundle.FileContexts, FileContext{
				Pattern:     doc.Pattern,
				SteeringDoc: doc.Name,
			})
		}
	}

	if len(bundle.Steering) == 0 {
		generic := GenericBundle(agentID)
		bundle.Steering = generic.Steering
		bundle.Generic = true
	}

	logger.G(ctx).WithField("agent", agentID).
		WithField("steering", len(bundle.Steering)).
		WithField("hooks", len(bundle.Hooks)).
		Debug("loaded activation bundle")

	return bundle, nil
}

// MissingDependencies lists the declared dependencies of def that no
// reachable scope can serve, as "category/name" entries in category
// order. Pack agents fall back to the core scope the same way
// resolution does.
func (l *Loader) MissingDependencies(ctx context.Context, def agenttypes.Definition) []string {
	scopes := []agenttypes.Source{def.Source}
	if def.Source.Kind == agenttypes.SourcePack {
		scopes = append(scopes, agenttypes.CoreSource())
	}

	categories := make([]string, 0, len(def.Dependencies))
	for category := range def.Dependencies {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var missing []string
	for _, category := range categories {
		for _, name := range def.Dependencies[category] {
			found := false
			for _, scope := range scopes {
				if l.store.Exists(ctx, scope, category, name) {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, category+"/"+name)
			}
		}
	}
	return missing
}

// scopedDirs lists the directories to scan for a resource kind, pack
// scope first.
func (l *Loader) scopedDirs(scope agenttypes.Source, kind string) []string {
	var dirs []string
	for _, root := range l.store.Roots() {
		if scope.Kind == agenttypes.SourcePack {
			dirs = append(dirs, filepath.Join(root, "packs", scope.Pack, kind))
		}
	}
	for _, root := range l.store.Roots() {
		dirs = append(dirs, filepath.Join(root, kind))
	}
	return dirs
}

func (l *Loader) loadSteering(ctx context.Context, dir, agentID string, bundle *Bundle, seen map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read steering directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".md")
		if seen[name] {
			continue
		}
		seen[name] = true

		path := filepath.Join(dir, entry.Name())
		doc, ok := l.parseSteering(ctx, path, name, agentID)
		if ok {
			bundle.Steering = append(bundle.Steering, doc)
		}
	}

	return nil
}

// parseSteering reads one steering document and decides whether it
// applies to the agent.
func (l *Loader) parseSteering(ctx context.Context, path, name, agentID string) (SteeringDoc, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.G(ctx).WithField("path", path).WithError(err).Warn("failed to read steering document, skipping")
		return SteeringDoc{}, false
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	var buf bytes.Buffer
	pctx := parser.NewContext()

	inclusion := InclusionAlways
	pattern := ""
	var targets []string

	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err == nil {
		if metaData := meta.Get(pctx); metaData != nil {
			if v, ok := metaData["inclusion"].(string); ok && v != "" {
				inclusion = v
			}
			if v, ok := metaData["fileMatchPattern"].(string); ok {
				pattern = v
			}
			if raw, ok := metaData["agents"].([]interface{}); ok {
				for _, item := range raw {
					if s, ok := item.(string); ok {
						targets = append(targets, s)
					}
				}
			}
		}
	}

	switch inclusion {
	case InclusionAlways, InclusionFileMatch:
	case InclusionManual:
		return SteeringDoc{}, false
	default:
		logger.G(ctx).WithField("path", path).WithField("inclusion", inclusion).Warn("unknown steering inclusion mode, skipping")
		return SteeringDoc{}, false
	}

	if len(targets) > 0 && !containsString(targets, agentID) {
		return SteeringDoc{}, false
	}

	if inclusion == InclusionFileMatch {
		if pattern == "" || !doublestar.ValidatePattern(pattern) {
			logger.G(ctx).WithField("path", path).WithField("pattern", pattern).Warn("invalid fileMatch pattern, skipping steering document")
			return SteeringDoc{}, false
		}
	}

	return SteeringDoc{
		Name:      name,
		Inclusion: inclusion,
		Pattern:   pattern,
		Content:   extractSteeringBody(string(content)),
		Path:      path,
	}, true
}

func (l *Loader) loadHooks(ctx context.Context, dir string, bundle *Bundle, seen map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read hooks directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		if seen[name] {
			continue
		}
		seen[name] = true

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			logger.G(ctx).WithField("path", path).WithError(err).Warn("failed to read hook descriptor, skipping")
			continue
		}

		var hook HookDescriptor
		if err := json.Unmarshal(content, &hook); err != nil {
			logger.G(ctx).WithField("path", path).WithError(err).Warn("invalid hook descriptor, skipping")
			continue
		}

		if hook.Command == "" {
			logger.G(ctx).WithField("path", path).Warn("hook descriptor missing command, skipping")
			continue
		}

		if hook.Trigger != "" {
			matcher, err := glob.Compile(hook.Trigger, '/')
			if err != nil {
				logger.G(ctx).WithField("path", path).WithField("trigger", hook.Trigger).WithError(err).Warn("invalid hook trigger, skipping")
				continue
			}
			hook.matcher = matcher
		}

		if hook.Name == "" {
			hook.Name = name
		}
		hook.Path = path
		bundle.Hooks = append(bundle.Hooks, hook)
	}

	return nil
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

// extractSteeringBody strips YAML frontmatter from a steering document.
func extractSteeringBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
		}
	}

	return content
}
