package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/pkg/definition"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

func writeAgent(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestRegistry(t *testing.T, roots ...string) *Registry {
	t.Helper()
	store, err := definition.NewStore(definition.WithRoots(roots...), definition.WithBuiltin(false))
	require.NoError(t, err)
	reg, err := New(store)
	require.NoError(t, err)
	return reg
}

func TestInitializeRegistersEverything(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, "agents")
	writeAgent(t, agents, "pm.md", "---\nid: pm\nname: John\ndescription: PM.\n---\nBody.\n")
	writeAgent(t, agents, "architect.md", "---\nid: architect\nname: Winston\ndescription: Arch.\n---\nBody.\n")
	// Malformed documents still count toward the registry.
	writeAgent(t, agents, "broken.md", "# Broken Persona\n\nNo frontmatter here.\n")

	reg := newTestRegistry(t, root)
	require.NoError(t, reg.Initialize(context.Background()))

	assert.True(t, reg.Initialized())
	assert.Equal(t, 3, reg.Statistics().TotalRegistered)
	assert.Equal(t, []string{"architect", "broken", "pm"}, reg.IDs())

	broken, err := reg.Get("broken")
	require.NoError(t, err)
	assert.True(t, broken.FallbackParsed)
	assert.False(t, broken.Valid)
	assert.Equal(t, "Broken Persona", broken.Definition.Name)
}

func TestInitializeEmptyStoreFatal(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	err := reg.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent definitions found")
	assert.False(t, reg.Initialized())
}

func TestInitializePrecedence(t *testing.T) {
	project := t.TempDir()
	global := t.TempDir()
	writeAgent(t, filepath.Join(project, "agents"), "dev.md",
		"---\nid: dev\nname: Project Dev\ndescription: D.\n---\n")
	writeAgent(t, filepath.Join(global, "agents"), "dev.md",
		"---\nid: dev\nname: Global Dev\ndescription: D.\n---\n")

	reg := newTestRegistry(t, project, global)
	require.NoError(t, reg.Initialize(context.Background()))

	rec, err := reg.Get("dev")
	require.NoError(t, err)
	assert.Equal(t, "Project Dev", rec.Definition.Name)
	assert.Equal(t, 1, reg.Statistics().TotalRegistered)
}

func TestReRegisterOverwrites(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	doc := func(desc string) definition.Document {
		return definition.Document{
			Path:    "agents/dev.md",
			Source:  agenttypes.CoreSource(),
			Content: []byte("---\nid: dev\nname: James\ndescription: " + desc + "\n---\n"),
		}
	}

	first := reg.RegisterFromDocument(context.Background(), doc("First."))
	second := reg.RegisterFromDocument(context.Background(), doc("Second."))

	assert.Equal(t, 1, reg.Statistics().TotalRegistered)

	rec, err := reg.Get("dev")
	require.NoError(t, err)
	assert.Equal(t, "Second.", rec.Definition.Description)
	assert.True(t, second.RegisteredAt.Equal(first.RegisteredAt))
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestGetUnknownAgent(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	_, err := reg.Get("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, agenttypes.ErrAgentNotFound))
	assert.Contains(t, err.Error(), "ghost")
}

func TestBySourceAndByPack(t *testing.T) {
	root := t.TempDir()
	writeAgent(t, filepath.Join(root, "agents"), "dev.md",
		"---\nid: dev\nname: James\ndescription: D.\n---\n")
	writeAgent(t, filepath.Join(root, "packs", "game", "agents"), "designer.md",
		"---\nid: designer\nname: Dana\ndescription: D.\n---\n")
	writeAgent(t, filepath.Join(root, "packs", "audio", "agents"), "composer.md",
		"---\nid: composer\nname: Cora\ndescription: C.\n---\n")

	reg := newTestRegistry(t, root)
	require.NoError(t, reg.Initialize(context.Background()))

	core := reg.BySource(agenttypes.SourceCore)
	require.Len(t, core, 1)
	assert.Equal(t, "dev", core[0].Definition.ID)

	packs := reg.BySource(agenttypes.SourcePack)
	assert.Len(t, packs, 2)

	game := reg.ByPack("game")
	require.Len(t, game, 1)
	assert.Equal(t, "designer", game[0].Definition.ID)

	assert.Empty(t, reg.ByPack("absent"))
}

func TestStatistics(t *testing.T) {
	root := t.TempDir()
	writeAgent(t, filepath.Join(root, "agents"), "dev.md",
		"---\nid: dev\nname: James\ndescription: D.\n---\n")
	writeAgent(t, filepath.Join(root, "agents"), "untitled.md", "No frontmatter.\n")
	writeAgent(t, filepath.Join(root, "packs", "game", "agents"), "designer.md",
		"---\nid: designer\n---\n")

	reg := newTestRegistry(t, root)
	require.NoError(t, reg.Initialize(context.Background()))

	stats := reg.Statistics()
	assert.Equal(t, 3, stats.TotalRegistered)
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 2, stats.Invalid)
	assert.Equal(t, 1, stats.FallbackParsed)
	assert.Equal(t, 2, stats.Core)
	assert.Equal(t, map[string]int{"game": 1}, stats.Packs)
	assert.False(t, stats.LastInitialized.IsZero())
}

func TestDefaultHandler(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	rec := reg.RegisterFromDocument(context.Background(), definition.Document{
		Path:    "agents/qa.md",
		Source:  agenttypes.CoreSource(),
		Content: []byte("---\nid: qa\nname: Quinn\ndescription: QA.\nrole: qa\ndependencies:\n  tasks: [review-story]\n---\n"),
	})

	result, err := rec.Handler.Activate(context.Background(), agenttypes.ActivationContext{"user": "sam"})
	require.NoError(t, err)
	assert.Equal(t, "Quinn (qa) ready", result.Summary)
	assert.Equal(t, "qa", result.Details["role"])
	assert.Equal(t, 1, result.Details["dependencies"])
	assert.Equal(t, "sam", result.Details["context.user"])
}

func TestWithHandlerFactory(t *testing.T) {
	store, err := definition.NewStore(definition.WithRoots(t.TempDir()), definition.WithBuiltin(false))
	require.NoError(t, err)

	called := false
	factory := func(def agenttypes.Definition) agenttypes.ActivationHandler {
		called = true
		return agenttypes.HandlerFunc(func(context.Context, agenttypes.ActivationContext) (*agenttypes.HandlerResult, error) {
			return &agenttypes.HandlerResult{Summary: "custom " + def.ID}, nil
		})
	}

	reg, err := New(store, WithHandlerFactory(factory))
	require.NoError(t, err)

	rec := reg.RegisterFromDocument(context.Background(), definition.Document{
		Path:    "agents/dev.md",
		Source:  agenttypes.CoreSource(),
		Content: []byte("---\nid: dev\nname: D\ndescription: D.\n---\n"),
	})

	assert.True(t, called)
	result, err := rec.Handler.Activate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom dev", result.Summary)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
