package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// AgentShowConfig holds configuration for the show command
type AgentShowConfig struct {
	Format string
}

// NewAgentShowConfig creates a new AgentShowConfig with default values
func NewAgentShowConfig() *AgentShowConfig {
	return &AgentShowConfig{
		Format: "text",
	}
}

// Validate validates the AgentShowConfig and returns an error if invalid
func (c *AgentShowConfig) Validate() error {
	if c.Format != "text" && c.Format != "json" {
		return errors.Errorf("invalid format: %s (supported formats: text, json)", c.Format)
	}
	return nil
}

var showCmd = &cobra.Command{
	Use:   "show [agentID]",
	Short: "Show a registered agent definition",
	Long:  `Show the full definition of a registered agent, including declared resources and validation problems.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getAgentShowConfigFromFlags(cmd)
		showAgentCmd(ctx, args[0], config)
	},
}

func init() {
	defaults := NewAgentShowConfig()
	showCmd.Flags().String("format", defaults.Format, "Output format: text or json")
}

// getAgentShowConfigFromFlags extracts show configuration from command flags
func getAgentShowConfigFromFlags(cmd *cobra.Command) *AgentShowConfig {
	config := NewAgentShowConfig()

	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}

	return config
}

func showAgentCmd(ctx context.Context, id string, config *AgentShowConfig) {
	if err := config.Validate(); err != nil {
		presenter.Error(err, "Invalid show options")
		os.Exit(1)
	}

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

	if config.Format == "json" {
		data, err := json.MarshalIndent(agent, "", "  ")
		if err != nil {
			presenter.Error(err, "Failed to render agent as JSON")
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	renderAgentText(agent)
}

func renderAgentText(agent *agenttypes.RegisteredAgent) {
	def := agent.Definition

	presenter.Section("Agent Definition")
	fmt.Printf("ID: %s\n", def.ID)
	fmt.Printf("Name: %s\n", def.Name)
	if def.Role != "" {
		fmt.Printf("Role: %s\n", def.Role)
	}
	fmt.Printf("Source: %s\n", def.Source.String())
	if def.Path != "" {
		fmt.Printf("Path: %s\n", def.Path)
	}
	fmt.Printf("Valid: %t\n", agent.Valid)
	if agent.FallbackParsed {
		fmt.Println("Parsed: fallback frontmatter recovery")
	}
	if def.Description != "" {
		fmt.Printf("Description: %s\n", def.Description)
	}

	if len(def.DependsOn) > 0 {
		fmt.Println()
		presenter.Section("Agent Dependencies")
		for _, dep := range def.DependsOn {
			fmt.Printf("  %s\n", dep)
		}
	}

	if len(def.Dependencies) > 0 {
		fmt.Println()
		presenter.Section("Declared Resources")

		categories := make([]string, 0, len(def.Dependencies))
		for category := range def.Dependencies {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		for _, category := range categories {
			fmt.Printf("  %s: %s\n", category, strings.Join(def.Dependencies[category], ", "))
		}
	}

	if len(agent.ValidationErrors) > 0 {
		fmt.Println()
		presenter.Section("Validation Problems")
		for _, problem := range agent.ValidationErrors {
			presenter.Warning(problem)
		}
	}
}
