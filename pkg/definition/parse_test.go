package definition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

func doc(path, content string) Document {
	return Document{
		Path:    path,
		Source:  agenttypes.CoreSource(),
		Content: []byte(content),
		ModTime: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestParseFullFrontmatter(t *testing.T) {
	content := `---
id: game-architect
name: Winston
description: Designs game backends.
role: architect
priority: high
depends_on:
  - pm
dependencies:
  tasks:
    - create-doc
    - review-design
  templates: arch-tmpl, brief-tmpl
---
# Game Architect

Persona body.
`
	outcome := Parse(context.Background(), doc("agents/game-architect.md", content))

	require.NotNil(t, outcome)
	assert.False(t, outcome.Fallback)
	assert.Empty(t, outcome.Problems)

	def := outcome.Definition
	assert.Equal(t, "game-architect", def.ID)
	assert.Equal(t, "Winston", def.Name)
	assert.Equal(t, "Designs game backends.", def.Description)
	assert.Equal(t, "architect", def.Role)
	assert.True(t, def.HighPriority)
	assert.Equal(t, []string{"pm"}, def.DependsOn)
	assert.Equal(t, map[string][]string{
		"tasks":     {"create-doc", "review-design"},
		"templates": {"arch-tmpl", "brief-tmpl"},
	}, def.Dependencies)
	assert.Equal(t, 4, def.DependencyCount())
	assert.Contains(t, def.RawBody, "# Game Architect")
	assert.NotContains(t, def.RawBody, "priority: high")
}

func TestParseMissingFrontmatter(t *testing.T) {
	content := "# The Archivist\n\nKeeps records of everything.\n"
	outcome := Parse(context.Background(), doc("packs/lore/agents/old_archivist.md", content))

	assert.True(t, outcome.Fallback)
	assert.Equal(t, "old-archivist", outcome.Definition.ID)
	assert.Equal(t, "The Archivist", outcome.Definition.Name)
	assert.Equal(t, fallbackDescription, outcome.Definition.Description)
	require.Len(t, outcome.Problems, 1)
	assert.Contains(t, outcome.Problems[0], "missing frontmatter")
	assert.True(t, outcome.Metadata.Fallback)
}

func TestParseInvalidFrontmatter(t *testing.T) {
	content := "---\nid: [unclosed\n---\n\nBody.\n"
	outcome := Parse(context.Background(), doc("agents/broken.md", content))

	assert.True(t, outcome.Fallback)
	assert.Equal(t, "broken", outcome.Definition.ID)
	// No heading in the body, so the name comes from the slug.
	assert.Equal(t, "Broken", outcome.Definition.Name)
	require.NotEmpty(t, outcome.Problems)
	assert.Contains(t, outcome.Problems[0], "invalid frontmatter")
}

func TestParseDerivedFields(t *testing.T) {
	content := `---
description: Builds features.
---
Body without heading.
`
	outcome := Parse(context.Background(), doc("agents/dev.md", content))

	assert.False(t, outcome.Fallback)
	assert.Equal(t, "dev", outcome.Definition.ID)
	assert.Equal(t, "Dev", outcome.Definition.Name)
	assert.Equal(t, "dev", outcome.Definition.Role)
	require.Len(t, outcome.Problems, 1)
	assert.Contains(t, outcome.Problems[0], "name missing from frontmatter")
}

func TestParseMissingDescription(t *testing.T) {
	content := `---
id: helper
name: Helper
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/helper.md", content))

	assert.Equal(t, "No description provided.", outcome.Definition.Description)
	require.Len(t, outcome.Problems, 1)
	assert.Contains(t, outcome.Problems[0], "description missing")
	assert.Equal(t, "generalist", outcome.Definition.Role)
}

func TestParseSlugifiesID(t *testing.T) {
	content := `---
id: Game Designer!
name: Dana
description: Designs games.
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/whatever.md", content))
	assert.Equal(t, "game-designer", outcome.Definition.ID)
}

func TestParseDependsOnString(t *testing.T) {
	content := `---
id: qa
name: Quinn
description: Reviews changes.
depends_on: dev, architect
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/qa.md", content))

	assert.Empty(t, outcome.Problems)
	assert.Equal(t, []string{"dev", "architect"}, outcome.Definition.DependsOn)
}

func TestParseDependsOnSelfReference(t *testing.T) {
	content := `---
id: loop
name: Loop
description: Depends on itself.
depends_on:
  - loop
  - other
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/loop.md", content))

	assert.Equal(t, []string{"other"}, outcome.Definition.DependsOn)
	require.Len(t, outcome.Problems, 1)
	assert.Contains(t, outcome.Problems[0], "references the definition itself")
}

func TestParseUnknownPriority(t *testing.T) {
	content := `---
id: x
name: X
description: D.
priority: urgent
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/x.md", content))

	assert.False(t, outcome.Definition.HighPriority)
	require.Len(t, outcome.Problems, 1)
	assert.Contains(t, outcome.Problems[0], `unknown priority "urgent"`)
}

func TestParseDependenciesMalformedEntries(t *testing.T) {
	content := `---
id: x
name: X
description: D.
dependencies:
  tasks:
    - create-doc
    - 42
  workflows:
    nested: map
---
Body.
`
	outcome := Parse(context.Background(), doc("agents/x.md", content))

	assert.Equal(t, map[string][]string{"tasks": {"create-doc"}}, outcome.Definition.Dependencies)
	require.Len(t, outcome.Problems, 2)
	assert.Contains(t, outcome.Problems[0], "dependencies.tasks")
	assert.Contains(t, outcome.Problems[1], "dependencies.workflows")
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Game Designer", "game-designer"},
		{"already-slugged", "already-slugged"},
		{"under_score.dots", "under-score-dots"},
		{"  spaced  out  ", "spaced-out"},
		{"UPPER", "upper"},
		{"v2 Agent", "v2-agent"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}

func TestExtractBody(t *testing.T) {
	t.Run("strips frontmatter", func(t *testing.T) {
		body := extractBody("---\nid: x\n---\n\n# Heading\n")
		assert.Equal(t, "# Heading\n", body)
	})

	t.Run("no frontmatter returns content", func(t *testing.T) {
		body := extractBody("# Heading\n")
		assert.Equal(t, "# Heading\n", body)
	})

	t.Run("unterminated frontmatter returns content", func(t *testing.T) {
		content := "---\nid: x\n# Heading\n"
		assert.Equal(t, content, extractBody(content))
	})
}
