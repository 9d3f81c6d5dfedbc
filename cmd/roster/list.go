package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/registry"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// AgentListConfig holds configuration for the list command
type AgentListConfig struct {
	Source     string
	Pack       string
	JSONOutput bool
}

// NewAgentListConfig creates a new AgentListConfig with default values
func NewAgentListConfig() *AgentListConfig {
	return &AgentListConfig{
		Source:     "",
		Pack:       "",
		JSONOutput: false,
	}
}

// Validate validates the AgentListConfig and returns an error if invalid
func (c *AgentListConfig) Validate() error {
	if c.Source != "" && c.Source != string(agenttypes.SourceCore) && c.Source != string(agenttypes.SourcePack) {
		return errors.Errorf("unsupported source: %s, only 'core' and 'pack' are supported", c.Source)
	}
	return nil
}

// OutputFormat defines the format of the output
type OutputFormat int

const (
	TableFormat OutputFormat = iota
	JSONFormat
)

// AgentListOutput represents the output for agent list
type AgentListOutput struct {
	Agents []AgentSummaryOutput
	Format OutputFormat
}

// AgentSummaryOutput represents a single agent summary for output
type AgentSummaryOutput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Source       string `json:"source"`
	Valid        bool   `json:"valid"`
	Dependencies int    `json:"dependencies"`
	Description  string `json:"description"`
}

// NewAgentListOutput creates a new AgentListOutput
func NewAgentListOutput(agents []*agenttypes.RegisteredAgent, format OutputFormat) *AgentListOutput {
	output := &AgentListOutput{
		Agents: make([]AgentSummaryOutput, 0, len(agents)),
		Format: format,
	}

	for _, agent := range agents {
		output.Agents = append(output.Agents, AgentSummaryOutput{
			ID:           agent.Definition.ID,
			Name:         agent.Definition.Name,
			Role:         agent.Definition.Role,
			Source:       agent.Definition.Source.String(),
			Valid:        agent.Valid,
			Dependencies: agent.Definition.DependencyCount(),
			Description:  agent.Definition.Description,
		})
	}

	return output
}

// Render formats and renders the agent list to the specified writer
func (o *AgentListOutput) Render(w io.Writer) error {
	if o.Format == JSONFormat {
		return o.renderJSON(w)
	}
	return o.renderTable(w)
}

func (o *AgentListOutput) renderJSON(w io.Writer) error {
	type jsonOutput struct {
		Agents []AgentSummaryOutput `json:"agents"`
	}

	output := jsonOutput{
		Agents: o.Agents,
	}

	jsonData, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error generating JSON output")
	}

	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func (o *AgentListOutput) renderTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tName\tRole\tSource\tValid\tDeps\tDescription")
	fmt.Fprintln(tw, "----\t----\t----\t------\t-----\t----\t-----------")

	for _, agent := range o.Agents {
		// Truncate long descriptions
		description := agent.Description
		if len(description) > 60 {
			description = strings.TrimSpace(description[:57]) + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			agent.ID,
			agent.Name,
			agent.Role,
			agent.Source,
			agent.Valid,
			agent.Dependencies,
			description,
		)
	}

	return tw.Flush()
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agent definitions",
	Long:  `List agent definitions discovered across the workspace roots, with optional source and pack filters.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getAgentListConfigFromFlags(cmd)
		listAgentsCmd(ctx, config)
	},
}

func init() {
	defaults := NewAgentListConfig()
	listCmd.Flags().String("source", defaults.Source, "Filter by source kind (core or pack)")
	listCmd.Flags().String("pack", defaults.Pack, "Filter by extension pack name")
	listCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getAgentListConfigFromFlags extracts list configuration from command flags
func getAgentListConfigFromFlags(cmd *cobra.Command) *AgentListConfig {
	config := NewAgentListConfig()

	if source, err := cmd.Flags().GetString("source"); err == nil {
		config.Source = source
	}
	if pack, err := cmd.Flags().GetString("pack"); err == nil {
		config.Pack = pack
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

// selectAgents applies the source and pack filters to the registry contents.
func selectAgents(reg *registry.Registry, config *AgentListConfig) []*agenttypes.RegisteredAgent {
	switch {
	case config.Pack != "":
		return reg.ByPack(config.Pack)
	case config.Source != "":
		return reg.BySource(agenttypes.SourceKind(config.Source))
	default:
		return reg.List()
	}
}

func listAgentsCmd(ctx context.Context, config *AgentListConfig) {
	if err := config.Validate(); err != nil {
		presenter.Error(err, "Invalid list options")
		os.Exit(1)
	}

	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "Failed to initialize agent registry")
		os.Exit(1)
	}

	agents := selectAgents(reg, config)
	if len(agents) == 0 {
		presenter.Info("No agents found")
		return
	}

	format := TableFormat
	if config.JSONOutput {
		format = JSONFormat
	}

	output := NewAgentListOutput(agents, format)
	if err := output.Render(os.Stdout); err != nil {
		presenter.Error(err, "Failed to render agent list")
		os.Exit(1)
	}
}
