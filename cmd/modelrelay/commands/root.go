// Package commands provides the CLI commands for modelrelay.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	configDir string
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "modelrelay",
	Short: "modelrelay - unified LLM request relay",
	Long: `modelrelay dispatches generation requests to configured LLM channels,
normalizing streaming output and retrying transient failures.

Run 'modelrelay serve' to start the HTTP server, or 'modelrelay generate'
to run a single request from the terminal.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; explicit environment wins either way.
		godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing the modelrelay config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("modelrelay %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(channelsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from the global flags.
func newLogger() zerolog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Pretty: logPretty,
	})
}
