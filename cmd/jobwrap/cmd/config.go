package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/birrulwldain/jobwrap/internal/config"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration inspection",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved job configuration",
	Long: `Show prints the job configuration after merging defaults, the config file,
JOBWRAP_* and scheduler environment variables and flags, with every path
resolved, plus the log destinations a run would use.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "text",
		"Output format: text, json, yaml, env")
}

// ResolvedConfig is what config show prints
type ResolvedConfig struct {
	ConfigFile   string                 `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Job          *config.JobConfig      `json:"job" yaml:"job"`
	Destinations config.LogDestinations `json:"destinations" yaml:"destinations"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, dest, err := loadJob()
	if err != nil {
		return err
	}

	resolved := ResolvedConfig{
		ConfigFile:   ConfigFile(),
		Job:          cfg,
		Destinations: dest,
	}
	return outputConfig(cmd.OutOrStdout(), resolved, configOutput)
}

func outputConfig(w io.Writer, rc ResolvedConfig, format string) error {
	cfg := rc.Job

	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rc)

	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		return encoder.Encode(rc)

	case "env":
		fmt.Fprintln(w, "# jobwrap configuration")
		vars := map[string]string{
			"BASE_DIR":             cfg.BaseDir,
			"WORK_DIR":             cfg.WorkDir,
			"JOB_ID":               cfg.JobID,
			"JOB_NAME":             cfg.JobName,
			"WORKLOAD_PATH":        cfg.Workload.Path,
			"THREADS_COUNT":        fmt.Sprint(cfg.Threads.Count),
			"THREADS_OMP":          fmt.Sprint(cfg.Threads.OMP),
			"THREADS_MKL":          fmt.Sprint(cfg.Threads.MKL),
			"THREADS_OPENBLAS":     fmt.Sprint(cfg.Threads.OpenBLAS),
			"DEVICES_ACCELERATORS": fmt.Sprint(cfg.Devices.Accelerators),
			"DIRS_LOGS":            cfg.Dirs.Logs,
			"DIRS_OUTPUT":          cfg.Dirs.Output,
			"LOGS_STDOUT":          cfg.Logs.Stdout,
			"LOGS_STDERR":          cfg.Logs.Stderr,
			"LOGS_LEVEL":           cfg.Logs.Level,
			"LOGS_FORMAT":          cfg.Logs.Format,
			"METRICS_TEXTFILE":     cfg.Metrics.Textfile,
			"METRICS_LISTEN":       cfg.Metrics.Listen,
			"LEDGER_PATH":          cfg.Ledger.Path,
		}
		if len(cfg.Dirs.Extra) > 0 {
			vars["DIRS_EXTRA"] = strings.Join(cfg.Dirs.Extra, ",")
		}
		if len(cfg.Signals.NoForward) > 0 {
			vars["SIGNALS_NO_FORWARD"] = strings.Join(cfg.Signals.NoForward, ",")
		}
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "export %s_%s=%q\n", config.EnvPrefix, k, vars[k])
		}
		return nil

	case "text":
		if rc.ConfigFile != "" {
			fmt.Fprintf(w, "Config file: %s\n\n", rc.ConfigFile)
		}
		fmt.Fprintln(w, "Job:")
		fmt.Fprintf(w, "  ID:        %s\n", cfg.JobID)
		fmt.Fprintf(w, "  Name:      %s\n", cfg.JobName)
		fmt.Fprintf(w, "  Workload:  %s %s\n", cfg.Workload.Path, strings.Join(cfg.Workload.Args, " "))
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Directories:")
		fmt.Fprintf(w, "  Base:      %s\n", cfg.BaseDir)
		fmt.Fprintf(w, "  Work:      %s\n", cfg.WorkDir)
		fmt.Fprintf(w, "  Logs:      %s\n", cfg.Dirs.Logs)
		fmt.Fprintf(w, "  Output:    %s\n", cfg.Dirs.Output)
		for _, extra := range cfg.Dirs.Extra {
			fmt.Fprintf(w, "  Extra:     %s\n", extra)
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Threads:")
		fmt.Fprintf(w, "  OpenMP:    %d\n", cfg.Threads.OMP)
		fmt.Fprintf(w, "  MKL:       %d\n", cfg.Threads.MKL)
		fmt.Fprintf(w, "  OpenBLAS:  %d\n", cfg.Threads.OpenBLAS)
		fmt.Fprintf(w, "  GPUs:      %s\n", boolToYesNo(cfg.Devices.Accelerators))
		fmt.Fprintln(w)

		fmt.Fprintln(w, "Logs:")
		fmt.Fprintf(w, "  Stdout:    %s\n", orInherited(rc.Destinations.Stdout))
		fmt.Fprintf(w, "  Stderr:    %s\n", orInherited(rc.Destinations.Stderr))
		fmt.Fprintf(w, "  Detail:    %s\n", rc.Destinations.Detail)
		fmt.Fprintf(w, "  Error log: %s\n", rc.Destinations.ErrorLog)
		return nil

	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml, env)", format)
	}
}

func orInherited(path string) string {
	if path == "" {
		return "(inherited)"
	}
	return path
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
