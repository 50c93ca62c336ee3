package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/birrulwldain/jobwrap/internal/config"
	"github.com/birrulwldain/jobwrap/internal/report"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

var (
	cfgFile string

	// v holds flags, environment and the config file for this invocation
	v = config.NewViper()

	// set by commands that propagate a workload's exit code
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "jobwrap",
	Short: "Batch job wrapper for cluster schedulers",
	Long: `jobwrap prepares the execution environment of a batch job, runs one
workload to completion, and reports memory and outcome around the run.

It is meant to be the command a scheduler batch script executes, e.g.

  #SBATCH --output=logs/%x_%j.out
  jobwrap run --base-dir $HOME/sim -- ./bin/solver input.toml`,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initConfig() },
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	exitCode = 0
	if err := rootCmd.Execute(); err != nil {
		return report.ExitSetupFailed
	}
	return exitCode
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.jobwrap/config.yaml, then ./jobwrap.yaml)")
	rootCmd.PersistentFlags().String("base-dir", "", "job base directory (default is the current directory)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")

	v.BindPFlag("base_dir", rootCmd.PersistentFlags().Lookup("base-dir"))
	v.BindPFlag("logs.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("logs.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in the config file if one is found
func initConfig() error {
	if cfgFile != "" {
		// Use config file from the flag; it must exist
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}

	candidates := []string{"jobwrap.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append([]string{filepath.Join(home, ".jobwrap", "config.yaml")}, candidates...)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// loadJob resolves the job configuration and its log destinations
func loadJob() (*config.JobConfig, config.LogDestinations, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, config.LogDestinations{}, err
	}
	return cfg, cfg.LogDestinations(time.Now()), nil
}

// newLogger creates the console logger configured for this job
func newLogger(cfg *config.JobConfig) *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.Logs.Level), cfg.Logs.Format == "json")
}

// ConfigFile returns the config file in use, or "" when none was read
func ConfigFile() string {
	return v.ConfigFileUsed()
}
