package cmd

import (
	"github.com/spf13/cobra"

	"github.com/birrulwldain/jobwrap/internal/provision"
	"github.com/birrulwldain/jobwrap/internal/report"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the job directories and check the working directory",
	Long: `Provision runs only the environment preparation step: it creates the logs,
work, output and extra directories and verifies the working directory. It is
idempotent and starts nothing. Useful to bootstrap a job tree or to check a
configuration before submitting.`,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, dest, err := loadJob()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	if _, err := provision.New(cfg, dest, logger).Provision(); err != nil {
		logger.Error("Persiapan lingkungan gagal", map[string]interface{}{"error": err.Error()})
		exitCode = report.ExitSetupFailed
		return nil
	}

	logger.Info("Lingkungan siap", map[string]interface{}{
		"logs":   cfg.Dirs.Logs,
		"output": cfg.Dirs.Output,
	})
	return nil
}
