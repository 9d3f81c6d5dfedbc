package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/presenter"
	"github.com/rosterhq/roster/pkg/recovery"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// ActivateConfig holds configuration for the activate command
type ActivateConfig struct {
	Context agenttypes.ActivationContext
}

// NewActivateConfig creates a new ActivateConfig with default values
func NewActivateConfig() *ActivateConfig {
	return &ActivateConfig{
		Context: make(agenttypes.ActivationContext),
	}
}

var activateCmd = &cobra.Command{
	Use:   "activate [agentID...]",
	Short: "Activate one or more agents",
	Long: `Activate agents through the session lifecycle: resources are loaded,
singleton roles are arbitrated, and failures degrade the session rather
than abort it. Sessions persist across invocations via the state store.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getActivateConfigFromFlags(cmd)
		activateAgentsCmd(ctx, args, config)
	},
}

func init() {
	activateCmd.Flags().StringSliceP("context", "c", []string{}, "Activation context in format key=value (can be specified multiple times)")
}

// getActivateConfigFromFlags extracts activate configuration from command flags
func getActivateConfigFromFlags(cmd *cobra.Command) *ActivateConfig {
	config := NewActivateConfig()

	// Parse context entries in format key=value
	if entries, err := cmd.Flags().GetStringSlice("context"); err == nil {
		for _, entry := range entries {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) == 2 {
				config.Context[parts[0]] = parts[1]
			}
		}
	}

	return config
}

func activateAgentsCmd(ctx context.Context, ids []string, config *ActivateConfig) {
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

	refused := 0
	for _, id := range ids {
		result := mgr.Activate(ctx, id, config.Context)
		renderActivationResult(id, result)
		if result.Instance == nil {
			refused++
		}
	}

	if err := mgr.SaveState(ctx); err != nil {
		presenter.Error(err, "Failed to save session state")
		os.Exit(1)
	}

	if refused > 0 {
		os.Exit(1)
	}
}

func renderActivationResult(id string, result *activation.Result) {
	if result.Instance == nil {
		message := fmt.Sprintf("Activation of %s refused", id)
		if result.Report != nil {
			message = fmt.Sprintf("%s: %s", message, result.Report.Message)
		}
		presenter.Warning(message)
		renderReportAdvice(result.Report)
		return
	}

	instance := result.Instance

	if result.AlreadyActive {
		presenter.Info(fmt.Sprintf("%s is already active (session %s)", instance.AgentID, instance.ID))
		return
	}

	if instance.Degraded {
		presenter.Warning(fmt.Sprintf("Activated %s in degraded mode (session %s)", instance.AgentID, instance.ID))
		for _, limitation := range instance.Limitations {
			fmt.Printf("  - %s\n", limitation)
		}
		renderReportAdvice(result.Report)
		return
	}

	presenter.Success(fmt.Sprintf("Activated %s as %s (session %s)", instance.AgentID, instance.Role, instance.ID))
}

// renderReportAdvice prints the troubleshooting guidance attached to a
// recovery report, if any.
func renderReportAdvice(report *recovery.Report) {
	if report == nil {
		return
	}

	for _, step := range report.TroubleshootingSteps {
		fmt.Printf("  try: %s\n", step)
	}
	for _, override := range report.ManualOverrides {
		fmt.Printf("  override [%s]: %s (%s risk)\n", override.ID, override.Title, override.Risk)
	}
}
