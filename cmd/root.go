// Package cmd implements the CLI commands for frappy-go.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SampleEnvironment/frappy-go/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags
var (
	globalLog       string
	globalLogFormat string
	globalLogLevel  string
)

// rootCmd is the base command for frappy-go.
var rootCmd = &cobra.Command{
	Use:   "frappy-go",
	Short: "SECoP sample environment node",
	Long: `frappy-go runs a SECoP (Sample Environment Communication Protocol)
node: it serves the configured modules over the SECoP line protocol and
can act as a client to other SEC nodes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", "info", "set the log level (debug, info, warn, error)")
}

func setupLogging() {
	var logOutput = os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			logOutput = f
		}
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logging.ParseLevel(globalLogLevel),
		Format: globalLogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)
}
