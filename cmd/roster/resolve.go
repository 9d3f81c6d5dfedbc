package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/resolver"
)

// ResolveConfig holds configuration for the resolve command
type ResolveConfig struct {
	JSONOutput bool
}

// NewResolveConfig creates a new ResolveConfig with default values
func NewResolveConfig() *ResolveConfig {
	return &ResolveConfig{
		JSONOutput: false,
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [agentID]",
	Short: "Resolve an agent's declared resource dependencies",
	Long:  `Check every resource an agent declares against the workspace roots and report which are present and which are missing.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getResolveConfigFromFlags(cmd)
		resolveAgentCmd(ctx, args[0], config)
	},
}

func init() {
	defaults := NewResolveConfig()
	resolveCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getResolveConfigFromFlags extracts resolve configuration from command flags
func getResolveConfigFromFlags(cmd *cobra.Command) *ResolveConfig {
	config := NewResolveConfig()

	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func resolveAgentCmd(ctx context.Context, id string, config *ResolveConfig) {
	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "Failed to initialize agent registry")
		os.Exit(1)
	}

	agent, err := reg.Get(id)
	if err != nil {
		presenter.Error(err, fmt.Sprintf("Failed to find agent '%s'", id))
		os.Exit(1)
	}

	res, err := newResolver()
	if err != nil {
		presenter.Error(err, "Failed to initialize dependency resolver")
		os.Exit(1)
	}

	resolution := res.Resolve(ctx, agent.Definition)

	if config.JSONOutput {
		data, err := json.MarshalIndent(resolution, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render resolution as JSON")
			os.Exit(1)
		}
		fmt.Println(string(data))
		if !resolution.Complete {
			os.Exit(1)
		}
		return
	}

	renderResolutionText(resolution)
}

func renderResolutionText(res *resolver.Resolution) {
	presenter.Section(fmt.Sprintf("Dependency Resolution: %s", res.AgentID))

	for _, category := range sortedCategories(res.Resolved) {
		for _, name := range res.Resolved[category] {
			presenter.Success(fmt.Sprintf("%s/%s", category, name))
		}
	}

	missing := 0
	for _, category := range sortedCategories(res.Missing) {
		for _, name := range res.Missing[category] {
			missing++
			presenter.Warning(fmt.Sprintf("%s/%s is missing", category, name))
		}
	}

	for _, problem := range res.Errors {
		presenter.Warning(problem)
	}

	fmt.Println()
	if res.Complete {
		presenter.Success("All dependencies resolved")
		return
	}

	presenter.Warning(fmt.Sprintf("%d dependencies could not be resolved", missing))
	os.Exit(1)
}

func sortedCategories(m map[string][]string) []string {
	categories := make([]string, 0, len(m))
	for category := range m {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}
