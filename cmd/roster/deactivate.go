package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
)

// DeactivateConfig holds configuration for the deactivate command
type DeactivateConfig struct {
	All bool
}

// NewDeactivateConfig creates a new DeactivateConfig with default values
func NewDeactivateConfig() *DeactivateConfig {
	return &DeactivateConfig{
		All: false,
	}
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate [agentID...]",
	Short: "Deactivate active agents",
	Long:  `Deactivate agent sessions by id, or every active session with --all. Released singleton roles become claimable again.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getDeactivateConfigFromFlags(cmd)

		if !config.All && len(args) == 0 {
			presenter.Error(errors.New("requires at least one agent id or --all"), "Nothing to deactivate")
			os.Exit(1)
		}

		deactivateAgentsCmd(ctx, args, config)
	},
}

func init() {
	defaults := NewDeactivateConfig()
	deactivateCmd.Flags().Bool("all", defaults.All, "Deactivate every active session")
}

// getDeactivateConfigFromFlags extracts deactivate configuration from command flags
func getDeactivateConfigFromFlags(cmd *cobra.Command) *DeactivateConfig {
	config := NewDeactivateConfig()

	if all, err := cmd.Flags().GetBool("all"); err == nil {
		config.All = all
	}

	return config
}

func deactivateAgentsCmd(ctx context.Context, ids []string, config *DeactivateConfig) {
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

	if config.All {
		ids = mgr.ActiveIDs()
		if len(ids) == 0 {
			presenter.Info("No active sessions")
			return
		}
	}

	missing := 0
	for _, id := range ids {
		if mgr.Deactivate(ctx, id) {
			presenter.Success(fmt.Sprintf("Deactivated %s", id))
		} else {
			missing++
			presenter.Warning(fmt.Sprintf("%s is not active", id))
		}
	}

	if err := mgr.SaveState(ctx); err != nil {
		presenter.Error(err, "Failed to save session state")
		os.Exit(1)
	}

	if missing > 0 {
		os.Exit(1)
	}
}
