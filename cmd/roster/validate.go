package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

var validateCmd = &cobra.Command{
	Use:   "validate [agentID]",
	Short: "Validate agent definitions",
	Long:  `Validate discovered agent definitions and report schema problems. With no argument every registered agent is checked.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		var id string
		if len(args) > 0 {
			id = args[0]
		}

		validateAgentsCmd(ctx, id)
	},
}

func validateAgentsCmd(ctx context.Context, id string) {
	reg, err := openRegistry(ctx)
	if err != nil {
		presenter.Error(err, "Failed to initialize agent registry")
		os.Exit(1)
	}

	var agents []*agenttypes.RegisteredAgent
	if id != "" {
		agent, err := reg.Get(id)
		if err != nil {
			presenter.Error(err, fmt.Sprintf("Failed to find agent '%s'", id))
			os.Exit(1)
		}
		agents = append(agents, agent)
	} else {
		agents = reg.List()
	}

	if len(agents) == 0 {
		presenter.Info("No agents found")
		return
	}

	invalid := 0
	for _, agent := range agents {
		switch {
		case agent.Valid && agent.FallbackParsed:
			presenter.Warning(fmt.Sprintf("%s is valid (recovered via fallback frontmatter parsing)", agent.Definition.ID))
		case agent.Valid:
			presenter.Success(fmt.Sprintf("%s is valid", agent.Definition.ID))
		default:
			invalid++
			presenter.Warning(fmt.Sprintf("%s failed validation:", agent.Definition.ID))
			for _, problem := range agent.ValidationErrors {
				fmt.Printf("  - %s\n", problem)
			}
		}
	}

	fmt.Println()
	if invalid > 0 {
		presenter.Warning(fmt.Sprintf("%d of %d agents failed validation", invalid, len(agents)))
		os.Exit(1)
	}
	presenter.Success(fmt.Sprintf("All %d agents passed validation", len(agents)))
}
