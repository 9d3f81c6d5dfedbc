package resolver

import (
	"fmt"
	"sort"
)

// DependencyRecord is one requester's claim on a named resource at a
// specific version. Records come from pack manifests or lock files, not
// from definition frontmatter (which carries no versions).
type DependencyRecord struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Requester string `json:"requester" yaml:"requester"`
}

// Conflict reports a resource claimed at more than one version.
// Suggestions are advisory; conflicts are surfaced, never auto-resolved.
type Conflict struct {
	Name        string   `json:"name"`
	Versions    []string `json:"versions"`
	Requesters  []string `json:"requesters"`
	Suggestions []string `json:"suggestions"`
}

// ResolveConflicts finds resources requested at differing versions. A
// resource requested at one version by many requesters is not a
// conflict.
func ResolveConflicts(records []DependencyRecord) []Conflict {
	type claim struct {
		versions   map[string][]string // version -> requesters
		requesters []string
	}

	claims := make(map[string]*claim)
	var order []string

	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		c, ok := claims[rec.Name]
		if !ok {
			c = &claim{versions: make(map[string][]string)}
			claims[rec.Name] = c
			order = append(order, rec.Name)
		}
		c.versions[rec.Version] = append(c.versions[rec.Version], rec.Requester)
		c.requesters = append(c.requesters, rec.Requester)
	}

	sort.Strings(order)

	var conflicts []Conflict
	for _, name := range order {
		c := claims[name]
		if len(c.versions) < 2 {
			continue
		}

		versions := make([]string, 0, len(c.versions))
		for v := range c.versions {
			versions = append(versions, v)
		}
		sort.Strings(versions)

		requesters := dedupeSorted(c.requesters)

		// Majority version first, ties broken by highest version string.
		preferred := versions[0]
		for _, v := range versions {
			if len(c.versions[v]) > len(c.versions[preferred]) ||
				(len(c.versions[v]) == len(c.versions[preferred]) && v > preferred) {
				preferred = v
			}
		}

		conflicts = append(conflicts, Conflict{
			Name:       name,
			Versions:   versions,
			Requesters: requesters,
			Suggestions: []string{
				fmt.Sprintf("pin %s to %s, the most widely requested version", name, preferred),
				fmt.Sprintf("rename the pack-local copy of %s if requesters genuinely need different versions", name),
			},
		})
	}

	return conflicts
}

func dedupeSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
