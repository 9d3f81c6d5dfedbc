package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/presenter"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate sessions idle past the timeout",
	Long:  `Load the persisted session state, deactivate every session whose idle time exceeds the configured timeout, and save the result.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		sweepSessionsCmd(ctx)
	},
}

func sweepSessionsCmd(ctx context.Context) {
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

	swept := mgr.SweepExpired(ctx)

	if err := mgr.SaveState(ctx); err != nil {
		presenter.Error(err, "Failed to save session state")
		os.Exit(1)
	}

	if swept == 0 {
		presenter.Info("No expired sessions")
		return
	}
	presenter.Success(fmt.Sprintf("Deactivated %d expired sessions", swept))
}
