package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/presenter"
)

// SessionListConfig holds configuration for the sessions command
type SessionListConfig struct {
	JSONOutput bool
}

// NewSessionListConfig creates a new SessionListConfig with default values
func NewSessionListConfig() *SessionListConfig {
	return &SessionListConfig{
		JSONOutput: false,
	}
}

// SessionListOutput represents the output for the active session list
type SessionListOutput struct {
	Sessions []*activation.Instance
	Format   OutputFormat
}

// NewSessionListOutput creates a new SessionListOutput
func NewSessionListOutput(sessions []*activation.Instance, format OutputFormat) *SessionListOutput {
	return &SessionListOutput{
		Sessions: sessions,
		Format:   format,
	}
}

// Render formats and renders the session list to the specified writer
func (o *SessionListOutput) Render(w io.Writer) error {
	if o.Format == JSONFormat {
		return o.renderJSON(w)
	}
	return o.renderTable(w)
}

func (o *SessionListOutput) renderJSON(w io.Writer) error {
	type jsonOutput struct {
		Sessions []*activation.Instance `json:"sessions"`
	}

	output := jsonOutput{
		Sessions: o.Sessions,
	}

	jsonData, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error generating JSON output")
	}

	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func (o *SessionListOutput) renderTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Session\tAgent\tRole\tState\tDegraded\tActivated")
	fmt.Fprintln(tw, "-------\t-----\t----\t-----\t--------\t---------")

	for _, session := range o.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			session.ID,
			session.AgentID,
			session.Role,
			session.State,
			session.Degraded,
			session.ActivatedAt.Format(time.RFC3339),
		)
	}

	return tw.Flush()
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active agent sessions",
	Long:  `List the sessions restored from the state store, including role assignments and degraded markers.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getSessionListConfigFromFlags(cmd)
		listSessionsCmd(ctx, config)
	},
}

func init() {
	defaults := NewSessionListConfig()
	sessionsCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getSessionListConfigFromFlags extracts sessions configuration from command flags
func getSessionListConfigFromFlags(cmd *cobra.Command) *SessionListConfig {
	config := NewSessionListConfig()

	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func listSessionsCmd(ctx context.Context, config *SessionListConfig) {
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

	sessions := mgr.Active()
	if len(sessions) == 0 {
		presenter.Info("No active sessions")
		return
	}

	format := TableFormat
	if config.JSONOutput {
		format = JSONFormat
	}

	output := NewSessionListOutput(sessions, format)
	if err := output.Render(os.Stdout); err != nil {
		presenter.Error(err, "Failed to render session list")
		os.Exit(1)
	}
}
