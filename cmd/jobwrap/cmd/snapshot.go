package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/birrulwldain/jobwrap/internal/observe"
)

var (
	snapshotLabel string
	snapshotJSON  bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Log one memory snapshot of the node and the job cgroup",
	Long: `Snapshot queries system memory, swap, load average and the job cgroup's
memory accounting, and logs them the same way run does before and after the
workload.

Example:
  jobwrap snapshot
  jobwrap snapshot --label pre
  jobwrap snapshot --json`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&snapshotLabel, "label", "now", "snapshot label (pre and post use the run headings)")
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "print the snapshot as JSON instead of logging it")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadJob()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	s := observe.NewSnapshotter(logger)

	if !snapshotJSON {
		s.Snapshot(cmd.Context(), snapshotLabel)
		return nil
	}

	snap, err := s.Take(cmd.Context(), snapshotLabel)
	if err != nil {
		return err
	}
	output, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(output))
	return nil
}
