// Package commands implements the taskpilot CLI commands using cobra.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/logging"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Autonomous background task selection for agents",
	Long: `Taskpilot gives each configured agent its own timer. On every tick it
scores the task catalog, applies the agent's personality, and runs the best
task when it clears the agent's threshold and cooldowns.

Configure agents and task commands in taskpilot.yaml.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: global config merged with ./taskpilot.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}

// loadConfig honors the --config flag, falling back to the merged defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.ExpandedLogPath(),
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// initConsoleLogging keeps one-shot commands quiet on stderr.
func initConsoleLogging(cfg *config.Config) error {
	level := "warn"
	if cfg.Logging.Level == "debug" {
		level = "debug"
	}
	return logging.Init(logging.Config{Level: level, Format: "text"})
}
