package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/resolver"
)

// GraphConfig holds configuration for the graph command
type GraphConfig struct {
	LoadOrder  bool
	JSONOutput bool
}

// NewGraphConfig creates a new GraphConfig with default values
func NewGraphConfig() *GraphConfig {
	return &GraphConfig{
		LoadOrder:  false,
		JSONOutput: false,
	}
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the cross-agent dependency graph",
	Long: `Analyze resource declarations across all registered agents: which
resources are shared, which depends_on targets are missing, and whether
any circular agent dependencies exist. With --load-order, print the
batched activation order that loads shared resources once.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getGraphConfigFromFlags(cmd)
		showGraphCmd(ctx, config)
	},
}

func init() {
	defaults := NewGraphConfig()
	graphCmd.Flags().Bool("load-order", defaults.LoadOrder, "Show the optimized activation batch order instead of the graph")
	graphCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getGraphConfigFromFlags extracts graph configuration from command flags
func getGraphConfigFromFlags(cmd *cobra.Command) *GraphConfig {
	config := NewGraphConfig()

	if loadOrder, err := cmd.Flags().GetBool("load-order"); err == nil {
		config.LoadOrder = loadOrder
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func showGraphCmd(ctx context.Context, config *GraphConfig) {
	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "Failed to initialize agent registry")
		os.Exit(1)
	}

	defs := reg.Definitions()
	if len(defs) == 0 {
		presenter.Info("No agents found")
		return
	}

	if config.LoadOrder {
		renderLoadOrder(resolver.OptimizeLoadOrder(defs), config.JSONOutput)
		return
	}

	graph := resolver.BuildGraph(defs)

	if config.JSONOutput {
		data, err := json.MarshalIndent(graph, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render graph as JSON")
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	renderGraphText(graph)
}

func renderGraphText(graph *resolver.Graph) {
	presenter.Section("Dependency Graph")
	fmt.Printf("Agents: %d\n", graph.Stats.Agents)
	fmt.Printf("Declared resources: %d total, %d unique, %d shared\n",
		graph.Stats.TotalDependencies,
		graph.Stats.UniqueDependencies,
		graph.Stats.SharedDependencies,
	)

	if len(graph.Shared) > 0 {
		fmt.Println()
		presenter.Section("Shared Resources")
		for _, qualified := range sortedCategories(graph.Shared) {
			fmt.Printf("  %s: %s\n", qualified, strings.Join(graph.Shared[qualified], ", "))
		}
	}

	if len(graph.MissingAgents) > 0 {
		fmt.Println()
		presenter.Section("Missing Agent Dependencies")
		for _, id := range sortedCategories(graph.MissingAgents) {
			presenter.Warning(fmt.Sprintf("%s depends on unregistered agents: %s", id, strings.Join(graph.MissingAgents[id], ", ")))
		}
	}

	if len(graph.Cycles) > 0 {
		fmt.Println()
		presenter.Section("Circular Dependencies")
		for _, cycle := range graph.Cycles {
			closed := append(append([]string{}, cycle...), cycle[0])
			presenter.Warning(strings.Join(closed, " -> "))
		}
	}
}

func renderLoadOrder(batches []resolver.LoadBatch, jsonOutput bool) {
	if jsonOutput {
		type output struct {
			Batches []resolver.LoadBatch `json:"batches"`
		}

		data, err := json.MarshalIndent(output{Batches: batches}, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render load order as JSON")
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	presenter.Section("Optimized Load Order")
	for i, batch := range batches {
		label := fmt.Sprintf("Batch %d", i+1)
		if batch.HighPriority {
			label += " (high priority)"
		}
		fmt.Printf("%s: %s\n", label, strings.Join(batch.Agents, ", "))
		if len(batch.Shared) > 0 {
			fmt.Printf("  shared: %s\n", strings.Join(batch.Shared, ", "))
		}
	}
}
