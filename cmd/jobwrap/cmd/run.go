package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/birrulwldain/jobwrap/internal/lifecycle"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- <workload> [args...]]",
	Short: "Provision, run and report one workload",
	Long: `Run prepares the job directories and environment, logs a memory snapshot,
runs the workload to completion in its own process group, reports the outcome,
and logs a second snapshot.

The wrapper exits with the workload's exit code (128+N when killed by signal N),
or 2 when the environment could not be prepared.

Example:
  jobwrap run -- ./bin/solver input.toml
  jobwrap run --threads 32 --stdout logs/job.out --stderr logs/job.err -- python sim.py
  JOBWRAP_WORKLOAD_PATH=./bin/solver jobwrap run`,
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("job-id", "", "job identifier (default $SLURM_JOB_ID)")
	runCmd.Flags().String("job-name", "", "job name (default $SLURM_JOB_NAME)")
	runCmd.Flags().String("workdir", "", "working directory for the workload, relative to the base dir")
	runCmd.Flags().Int("threads", 0, "thread count for OpenMP/MKL/OpenBLAS (default $SLURM_CPUS_PER_TASK)")
	runCmd.Flags().Bool("accelerators", false, "leave GPUs visible to the workload")
	runCmd.Flags().String("stdout", "", "append workload stdout to this file")
	runCmd.Flags().String("stderr", "", "append workload stderr to this file")
	runCmd.Flags().String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	runCmd.Flags().String("metrics-listen", "", "serve /metrics and /healthz on this address while running")
	runCmd.Flags().String("ledger", "", "record the run in this SQLite database")
	runCmd.Flags().StringSlice("no-forward", nil, "signals to catch without relaying, e.g. SIGTERM when the scheduler signals the whole step")

	for key, flag := range map[string]string{
		"job_id":               "job-id",
		"job_name":             "job-name",
		"work_dir":             "workdir",
		"threads.count":        "threads",
		"devices.accelerators": "accelerators",
		"logs.stdout":          "stdout",
		"logs.stderr":          "stderr",
		"metrics.textfile":     "metrics-textfile",
		"metrics.listen":       "metrics-listen",
		"ledger.path":          "ledger",
		"signals.no_forward":   "no-forward",
	} {
		v.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
}

func runJob(cmd *cobra.Command, args []string) error {
	// Positional workload overrides the configured one
	if len(args) > 0 {
		v.Set("workload.path", args[0])
		v.Set("workload.args", args[1:])
	}

	cfg, dest, err := loadJob()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	defer logger.Close()

	if file := ConfigFile(); file != "" {
		logger.Debug("Konfigurasi dibaca", map[string]interface{}{"file": file})
	}

	exitCode = lifecycle.New(cfg, dest, logger).Execute(context.Background())
	return nil
}
