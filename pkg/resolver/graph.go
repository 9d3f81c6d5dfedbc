package resolver

import (
	"sort"
	"strings"

	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Graph is the dependency structure across the whole agent set, rebuilt
// whenever the registered set changes. Resource keys are qualified as
// "category/name" so identical names in different categories stay
// distinct.
type Graph struct {
	// Dependencies maps a qualified resource name to the agent ids that
	// declare it.
	Dependencies map[string][]string `json:"dependencies"`
	// Dependents maps an agent id to the qualified resource names it
	// declares.
	Dependents map[string][]string `json:"dependents"`
	// Shared is the subset of Dependencies declared by more than one
	// agent; these are loaded once and reused.
	Shared map[string][]string `json:"shared"`
	// Cycles lists circular chains in the agent-to-agent depends_on
	// relation. Resource dependencies cannot cycle.
	Cycles [][]string `json:"cycles,omitempty"`
	// MissingAgents maps an agent id to depends_on targets that are not
	// registered.
	MissingAgents map[string][]string `json:"missingAgents,omitempty"`
	Stats         GraphStats          `json:"stats"`
}

// GraphStats summarizes the graph.
type GraphStats struct {
	Agents             int `json:"agents"`
	TotalDependencies  int `json:"totalDependencies"`
	UniqueDependencies int `json:"uniqueDependencies"`
	SharedDependencies int `json:"sharedDependencies"`
}

// QualifiedName joins a category and resource name into a graph key.
func QualifiedName(category, name string) string {
	return category + "/" + name
}

// BuildGraph builds the dependency views for defs in one pass over
// agents and their declarations.
func BuildGraph(defs []agenttypes.Definition) *Graph {
	g := &Graph{
		Dependencies: make(map[string][]string),
		Dependents:   make(map[string][]string),
		Shared:       make(map[string][]string),
	}

	ids := make(map[string]bool, len(defs))
	for _, def := range defs {
		ids[def.ID] = true
	}

	total := 0
	for _, def := range defs {
		seen := make(map[string]bool)
		for _, category := range sortedCategories(def.Dependencies) {
			for _, name := range def.Dependencies[category] {
				total++
				qualified := QualifiedName(category, name)
				if seen[qualified] {
					continue
				}
				seen[qualified] = true
				g.Dependencies[qualified] = append(g.Dependencies[qualified], def.ID)
				g.Dependents[def.ID] = append(g.Dependents[def.ID], qualified)
			}
		}

		var missing []string
		for _, target := range def.DependsOn {
			if !ids[target] {
				missing = append(missing, target)
			}
		}
		if len(missing) > 0 {
			if g.MissingAgents == nil {
				g.MissingAgents = make(map[string][]string)
			}
			g.MissingAgents[def.ID] = missing
		}
	}

	for qualified, agents := range g.Dependencies {
		if len(agents) > 1 {
			g.Shared[qualified] = agents
		}
	}

	g.Cycles = findCycles(defs, ids)
	g.Stats = GraphStats{
		Agents:             len(defs),
		TotalDependencies:  total,
		UniqueDependencies: len(g.Dependencies),
		SharedDependencies: len(g.Shared),
	}

	return g
}

// findCycles walks the depends_on relation with a three-color DFS and
// reports each distinct cycle once, rotated so the smallest id leads.
func findCycles(defs []agenttypes.Definition, ids map[string]bool) [][]string {
	edges := make(map[string][]string, len(defs))
	for _, def := range defs {
		for _, target := range def.DependsOn {
			if ids[target] {
				edges[def.ID] = append(edges[def.ID], target)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(defs))
	var stack []string
	var cycles [][]string
	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, target := range edges[id] {
			switch color[target] {
			case white:
				visit(target)
			case gray:
				for i, n := range stack {
					if n == target {
						cycle := canonicalCycle(stack[i:])
						key := strings.Join(cycle, "->")
						if !reported[key] {
							reported[key] = true
							cycles = append(cycles, cycle)
						}
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	sorted := make([]string, 0, len(defs))
	for _, def := range defs {
		sorted = append(sorted, def.ID)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		if color[id] == white {
			visit(id)
		}
	}

	return cycles
}

// canonicalCycle rotates a cycle so the smallest id comes first, giving
// a stable representation independent of DFS entry point.
func canonicalCycle(cycle []string) []string {
	min := 0
	for i, id := range cycle {
		if id < cycle[min] {
			min = i
		}
	}

	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[min:]...)
	rotated = append(rotated, cycle[:min]...)
	return rotated
}

// LoadBatch is one group of agents that can be loaded together because
// they share declared resources.
type LoadBatch struct {
	Agents []string `json:"agents"`
	// Shared lists qualified resources declared by more than one agent
	// in the batch.
	Shared       []string `json:"shared,omitempty"`
	HighPriority bool     `json:"highPriority,omitempty"`
}

// OptimizeLoadOrder orders agents for bulk activation: high-priority
// agents come first, and agents sharing any resource are grouped into
// one batch so the shared resource is loaded once.
func OptimizeLoadOrder(defs []agenttypes.Definition) []LoadBatch {
	var high, normal []agenttypes.Definition
	for _, def := range defs {
		if def.HighPriority {
			high = append(high, def)
		} else {
			normal = append(normal, def)
		}
	}

	batches := batchBySharing(high, true)
	return append(batches, batchBySharing(normal, false)...)
}

// batchBySharing groups defs into connected components over the
// "declares the same resource" relation.
func batchBySharing(defs []agenttypes.Definition, highPriority bool) []LoadBatch {
	if len(defs) == 0 {
		return nil
	}

	parent := make(map[string]string, len(defs))
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		parent[find(a)] = find(b)
	}

	for _, def := range defs {
		parent[def.ID] = def.ID
	}

	declarers := make(map[string][]string)
	for _, def := range defs {
		seen := make(map[string]bool)
		for _, category := range sortedCategories(def.Dependencies) {
			for _, name := range def.Dependencies[category] {
				qualified := QualifiedName(category, name)
				if seen[qualified] {
					continue
				}
				seen[qualified] = true
				declarers[qualified] = append(declarers[qualified], def.ID)
			}
		}
	}

	for _, agents := range declarers {
		for i := 1; i < len(agents); i++ {
			union(agents[0], agents[i])
		}
	}

	members := make(map[string][]string)
	for _, def := range defs {
		root := find(def.ID)
		members[root] = append(members[root], def.ID)
	}

	batches := make([]LoadBatch, 0, len(members))
	for _, agents := range members {
		sort.Strings(agents)

		inBatch := make(map[string]bool, len(agents))
		for _, id := range agents {
			inBatch[id] = true
		}

		var shared []string
		for qualified, declaring := range declarers {
			count := 0
			for _, id := range declaring {
				if inBatch[id] {
					count++
				}
			}
			if count > 1 {
				shared = append(shared, qualified)
			}
		}
		sort.Strings(shared)

		batches = append(batches, LoadBatch{
			Agents:       agents,
			Shared:       shared,
			HighPriority: highPriority,
		})
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].Agents[0] < batches[j].Agents[0]
	})

	return batches
}

func sortedCategories(deps map[string][]string) []string {
	categories := make([]string, 0, len(deps))
	for category := range deps {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}
