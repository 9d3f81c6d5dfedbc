package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/registry"
)

// StatsConfig holds configuration for the stats command
type StatsConfig struct {
	JSONOutput bool
}

// NewStatsConfig creates a new StatsConfig with default values
func NewStatsConfig() *StatsConfig {
	return &StatsConfig{
		JSONOutput: false,
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry and session statistics",
	Long:  `Show how many agents are registered, how they parsed, and the activation counters from the current session state.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getStatsConfigFromFlags(cmd)
		showStatsCmd(ctx, config)
	},
}

func init() {
	defaults := NewStatsConfig()
	statsCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getStatsConfigFromFlags extracts stats configuration from command flags
func getStatsConfigFromFlags(cmd *cobra.Command) *StatsConfig {
	config := NewStatsConfig()

	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func showStatsCmd(ctx context.Context, config *StatsConfig) {
	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "Failed to initialize agent registry")
		os.Exit(1)
	}

	mgr, err := newSessionManager(ctx, reg)
	if err != nil {
		presenter.Error(err, "Failed to initialize activation manager")
		os.Exit(1)
	}

	if _, err := mgr.LoadState(ctx); err != nil {
		presenter.Error(err, "Failed to load session state")
		os.Exit(1)
	}

	registryStats := reg.Statistics()
	sessionStats := mgr.Statistics()

	if config.JSONOutput {
		type output struct {
			Registry registry.Statistics   `json:"registry"`
			Sessions activation.Statistics `json:"sessions"`
		}

		data, err := json.MarshalIndent(output{Registry: registryStats, Sessions: sessionStats}, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render statistics as JSON")
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	presenter.Section("Registry")
	fmt.Printf("Registered agents: %d (%d valid, %d invalid)\n",
		registryStats.TotalRegistered,
		registryStats.Valid,
		registryStats.Invalid,
	)
	if registryStats.FallbackParsed > 0 {
		fmt.Printf("Recovered via fallback parsing: %d\n", registryStats.FallbackParsed)
	}
	fmt.Printf("Core agents: %d\n", registryStats.Core)

	if len(registryStats.Packs) > 0 {
		packs := make([]string, 0, len(registryStats.Packs))
		for pack := range registryStats.Packs {
			packs = append(packs, pack)
		}
		sort.Strings(packs)

		for _, pack := range packs {
			fmt.Printf("Pack %s: %d\n", pack, registryStats.Packs[pack])
		}
	}

	fmt.Println()
	presenter.Stats(presenter.ConvertSessionStats(&sessionStats))
}
