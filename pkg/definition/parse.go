package definition

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/rosterhq/roster/pkg/logger"
	"github.com/rosterhq/roster/pkg/roles"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Outcome is the best-effort result of parsing one document. Parsing
// never fails outright: a document with broken or missing frontmatter
// yields a heuristic definition with Fallback set, so every discovered
// file can still be registered.
type Outcome struct {
	Definition agenttypes.Definition
	Metadata   agenttypes.Metadata
	// Problems lists validation findings. A non-empty list marks the
	// record invalid but does not block registration.
	Problems []string
	// Fallback is set when frontmatter was absent or unparseable and
	// the identity fields were derived from the filename and body.
	Fallback bool
}

// knownPriorities are the accepted frontmatter priority values.
var knownPriorities = map[string]bool{
	"":         true,
	"low":      true,
	"normal":   true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// Parse extracts a definition from a document. Frontmatter fields win;
// anything missing is derived from the filename and the first heading.
func Parse(ctx context.Context, doc Document) *Outcome {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()

	var metaData map[string]interface{}
	metaErr := md.Convert(doc.Content, &buf, parser.WithContext(pctx))
	if metaErr == nil {
		metaData, metaErr = meta.TryGet(pctx)
	}

	body := extractBody(string(doc.Content))

	if metaErr != nil || metaData == nil {
		return fallbackOutcome(ctx, doc, body, metaErr)
	}

	var problems []string
	var metadata agenttypes.Metadata

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &metadata,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fallbackOutcome(ctx, doc, body, err)
	}
	if err := decoder.Decode(metaData); err != nil {
		problems = append(problems, fmt.Sprintf("frontmatter: %v", err))
	}

	id := Slugify(metadata.ID)
	if id == "" {
		id = Slugify(stem(doc.Path))
	}

	name := strings.TrimSpace(metadata.Name)
	if name == "" {
		name = firstHeading(body)
		if name == "" {
			name = titleCase(id)
		}
		problems = append(problems, fmt.Sprintf("name missing from frontmatter; derived %q", name))
	}

	description := strings.TrimSpace(metadata.Description)
	if description == "" {
		description = "No description provided."
		problems = append(problems, "description missing from frontmatter")
	}

	role := strings.ToLower(strings.TrimSpace(metadata.Role))
	if role == "" {
		role = string(roles.Derive(id, body))
	}

	priority := strings.ToLower(strings.TrimSpace(metadata.Priority))
	if !knownPriorities[priority] {
		problems = append(problems, fmt.Sprintf("unknown priority %q", metadata.Priority))
	}

	dependsOn := normalizeList(metadata.DependsOn)
	filtered := dependsOn[:0]
	for _, dep := range dependsOn {
		if Slugify(dep) == id {
			problems = append(problems, "depends_on references the definition itself")
			continue
		}
		filtered = append(filtered, dep)
	}
	dependsOn = filtered
	if len(dependsOn) == 0 {
		dependsOn = nil
	}

	dependencies, depProblems := normalizeDependencies(metadata.Dependencies)
	problems = append(problems, depProblems...)

	if len(problems) > 0 {
		logger.G(ctx).WithField("path", doc.Path).WithField("problems", len(problems)).Debug("definition parsed with validation problems")
	}

	metadata.ID = id
	metadata.Name = name
	metadata.Description = description
	metadata.Role = role

	return &Outcome{
		Definition: agenttypes.Definition{
			ID:           id,
			Name:         name,
			Description:  description,
			Role:         role,
			Source:       doc.Source,
			Dependencies: dependencies,
			DependsOn:    dependsOn,
			HighPriority: priority == "high" || priority == "critical",
			RawBody:      body,
			Path:         doc.Path,
			LastModified: doc.ModTime,
		},
		Metadata: metadata,
		Problems: problems,
	}
}

// fallbackOutcome derives a usable definition when frontmatter is absent
// or unparseable. The result always registers; the problem list records
// what went wrong.
func fallbackOutcome(ctx context.Context, doc Document, body string, cause error) *Outcome {
	id := Slugify(stem(doc.Path))
	name := firstHeading(body)
	if name == "" {
		name = titleCase(id)
	}

	problem := "missing frontmatter"
	if cause != nil {
		problem = fmt.Sprintf("invalid frontmatter: %v", cause)
	}

	logger.G(ctx).WithField("path", doc.Path).WithField("id", id).Warn("falling back to heuristic definition parse")

	metadata := agenttypes.Metadata{
		ID:          id,
		Name:        name,
		Description: fallbackDescription,
		Role:        string(roles.Derive(id, body)),
		Fallback:    true,
	}

	return &Outcome{
		Definition: agenttypes.Definition{
			ID:           id,
			Name:         name,
			Description:  fallbackDescription,
			Role:         metadata.Role,
			Source:       doc.Source,
			RawBody:      body,
			Path:         doc.Path,
			LastModified: doc.ModTime,
		},
		Metadata: metadata,
		Problems: []string{problem},
		Fallback: true,
	}
}

const fallbackDescription = "Recovered without structured metadata; review the definition file."

// stem returns the filename without directory or .md extension.
func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

// Slugify lowercases s and maps every run of non-alphanumeric characters
// to a single hyphen. The empty string stays empty.
func Slugify(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// firstHeading returns the text of the first markdown heading in body.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// titleCase renders a slug like "game-designer" as "Game Designer".
func titleCase(slug string) string {
	words := strings.Split(slug, "-")
	out := words[:0]
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, strings.ToUpper(w[:1])+w[1:])
	}
	return strings.Join(out, " ")
}

// normalizeList trims entries and splits comma-separated values, so both
// YAML lists and "a, b" strings produce the same result.
func normalizeList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// normalizeDependencies coerces the tolerated frontmatter shapes into
// category -> resource names. Each category accepts a list of strings or
// a single (optionally comma-separated) string; anything else is
// reported as a problem and skipped.
func normalizeDependencies(raw map[string]any) (map[string][]string, []string) {
	if len(raw) == 0 {
		return nil, nil
	}

	deps := make(map[string][]string, len(raw))
	var problems []string

	for key, value := range raw {
		category := Slugify(key)
		if category == "" {
			problems = append(problems, fmt.Sprintf("dependencies: unusable category name %q", key))
			continue
		}

		var names []string
		switch v := value.(type) {
		case nil:
			continue
		case string:
			names = normalizeList([]string{v})
		case []interface{}:
			for _, item := range v {
				str, ok := item.(string)
				if !ok {
					problems = append(problems, fmt.Sprintf("dependencies.%s: entry %v is not a string", category, item))
					continue
				}
				names = append(names, normalizeList([]string{str})...)
			}
		default:
			problems = append(problems, fmt.Sprintf("dependencies.%s: unsupported value of type %T", category, value))
			continue
		}

		if len(names) > 0 {
			deps[category] = append(deps[category], names...)
		}
	}

	if len(deps) == 0 {
		deps = nil
	}
	sort.Strings(problems)
	return deps, problems
}

// extractBody strips YAML frontmatter and returns the markdown body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}
