package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rosterhq/roster/pkg/logger"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("ROSTER")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./.roster")
	viper.AddConfigPath("$HOME/.roster")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "roster",
	Short: "Roster manages agent persona definitions and their activation lifecycle",
	Long: `Roster discovers agent persona definitions across workspace roots,
registers and validates them, resolves their declared resource
dependencies, and runs the activation lifecycle with bounded
concurrency, role conflict handling, and automatic error recovery.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if err := logger.SetLevel(viper.GetString("log_level")); err != nil {
			logger.G(ctx).WithError(err).Warn("invalid log level, keeping default")
		}
		logger.SetFormat(viper.GetString("log_format"))

		shutdown, err := initTracing(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to initialize tracing")
			return
		}
		tracingShutdown = shutdown
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func main() {
	// Add global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")
	rootCmd.PersistentFlags().String("base-path", "", "Workspace base path (overrides ./.roster and ~/.roster discovery)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("base_path", rootCmd.PersistentFlags().Lookup("base-path"))

	// Add subcommands
	rootCmd.AddCommand(withTracing(listCmd))
	rootCmd.AddCommand(withTracing(showCmd))
	rootCmd.AddCommand(withTracing(validateCmd))
	rootCmd.AddCommand(withTracing(resolveCmd))
	rootCmd.AddCommand(withTracing(graphCmd))
	rootCmd.AddCommand(withTracing(conflictsCmd))
	rootCmd.AddCommand(withTracing(activateCmd))
	rootCmd.AddCommand(withTracing(deactivateCmd))
	rootCmd.AddCommand(withTracing(sessionsCmd))
	rootCmd.AddCommand(withTracing(statsCmd))
	rootCmd.AddCommand(withTracing(sweepCmd))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	ctx := context.Background()

	err := rootCmd.ExecuteContext(ctx)
	if tracingShutdown != nil {
		if shutdownErr := tracingShutdown(ctx); shutdownErr != nil {
			logger.G(ctx).WithError(shutdownErr).Warn("failed to shut down tracing")
		}
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
