package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/resolver"
)

// ConflictsConfig holds configuration for the conflicts command
type ConflictsConfig struct {
	JSONOutput bool
}

// NewConflictsConfig creates a new ConflictsConfig with default values
func NewConflictsConfig() *ConflictsConfig {
	return &ConflictsConfig{
		JSONOutput: false,
	}
}

// dependencyManifest is the YAML shape of a pack manifest or lock file
// listing versioned dependency claims.
type dependencyManifest struct {
	Dependencies []resolver.DependencyRecord `yaml:"dependencies"`
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts [manifest]",
	Short: "Check a dependency manifest for version conflicts",
	Long: `Parse a YAML manifest of versioned dependency claims and report
resources requested at more than one version, with pinning suggestions.
Conflicts are surfaced for a human to resolve, never auto-resolved.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getConflictsConfigFromFlags(cmd)
		checkConflictsCmd(ctx, args[0], config)
	},
}

func init() {
	defaults := NewConflictsConfig()
	conflictsCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getConflictsConfigFromFlags extracts conflicts configuration from command flags
func getConflictsConfigFromFlags(cmd *cobra.Command) *ConflictsConfig {
	config := NewConflictsConfig()

	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func checkConflictsCmd(_ context.Context, path string, config *ConflictsConfig) {
	data, err := os.ReadFile(path)
	if err != nil {
		presenter.Error(err, fmt.Sprintf("Failed to read manifest '%s'", path))
		os.Exit(1)
	}

	var manifest dependencyManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		presenter.Error(err, fmt.Sprintf("Failed to parse manifest '%s'", path))
		os.Exit(1)
	}

	if len(manifest.Dependencies) == 0 {
		presenter.Info("No dependency records found in manifest")
		return
	}

	conflicts := resolver.ResolveConflicts(manifest.Dependencies)

	if config.JSONOutput {
		type output struct {
			Conflicts []resolver.Conflict `json:"conflicts"`
		}

		jsonData, err := json.MarshalIndent(output{Conflicts: conflicts}, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render conflicts as JSON")
			os.Exit(1)
		}
		fmt.Println(string(jsonData))

		if len(conflicts) > 0 {
			os.Exit(1)
		}
		return
	}

	if len(conflicts) == 0 {
		presenter.Success(fmt.Sprintf("No version conflicts across %d dependency records", len(manifest.Dependencies)))
		return
	}

	for _, conflict := range conflicts {
		presenter.Section(fmt.Sprintf("Conflict: %s", conflict.Name))
		fmt.Printf("Versions: %s\n", strings.Join(conflict.Versions, ", "))
		fmt.Printf("Requesters: %s\n", strings.Join(conflict.Requesters, ", "))
		for _, suggestion := range conflict.Suggestions {
			presenter.Info(suggestion)
		}
		fmt.Println()
	}

	presenter.Warning(fmt.Sprintf("%d version conflicts found", len(conflicts)))
	os.Exit(1)
}
