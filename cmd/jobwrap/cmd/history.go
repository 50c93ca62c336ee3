package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/birrulwldain/jobwrap/internal/ledger"
)

var (
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs recorded in the ledger",
	Long: `History reads the SQLite run ledger (ledger.path) and lists the most
recent runs first.

Example:
  jobwrap history --limit 20
  jobwrap history --output json`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyOutput, "output", "table", "output format: table or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadJob()
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" {
		return errors.New("no ledger configured (set ledger.path or JOBWRAP_LEDGER_PATH)")
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return outputHistory(cmd.OutOrStdout(), entries, historyOutput)
}

func outputHistory(w io.Writer, entries []*ledger.Entry, format string) error {
	if format == "json" {
		if entries == nil {
			entries = []*ledger.Entry{}
		}
		output, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Started", "Job", "Name", "Outcome", "Exit", "Signal", "Duration", "Max RSS")

	for _, e := range entries {
		r := e.Result
		table.Append(
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.JobID,
			e.JobName,
			string(e.Outcome),
			fmt.Sprintf("%d", r.ExitCode),
			r.Signal,
			r.Duration.Round(time.Second).String(),
			humanize.IBytes(uint64(r.MaxRSSKiB)*1024),
		)
	}

	table.Render()
	fmt.Fprintf(w, "\nTotal runs: %d\n", len(entries))
	return nil
}
