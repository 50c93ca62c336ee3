package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// EnvPrefix is the prefix of every jobwrap environment variable
const EnvPrefix = "JOBWRAP"

// JobConfig is the immutable description of one wrapped job
type JobConfig struct {
	BaseDir  string            `mapstructure:"base_dir" json:"base_dir" yaml:"base_dir" validate:"required"`
	WorkDir  string            `mapstructure:"work_dir" json:"work_dir" yaml:"work_dir" validate:"required"`
	JobID    string            `mapstructure:"job_id" json:"job_id" yaml:"job_id" validate:"required"`
	JobName  string            `mapstructure:"job_name" json:"job_name" yaml:"job_name" validate:"required"`
	Workload WorkloadConfig    `mapstructure:"workload" json:"workload" yaml:"workload"`
	Threads  ThreadConfig      `mapstructure:"threads" json:"threads" yaml:"threads"`
	Devices  DeviceConfig      `mapstructure:"devices" json:"devices" yaml:"devices"`
	Dirs     DirConfig         `mapstructure:"dirs" json:"dirs" yaml:"dirs"`
	Env      map[string]string `mapstructure:"env" json:"env,omitempty" yaml:"env,omitempty"`
	Logs     LogConfig         `mapstructure:"logs" json:"logs" yaml:"logs"`
	Metrics  MetricsConfig     `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Ledger   LedgerConfig      `mapstructure:"ledger" json:"ledger" yaml:"ledger"`
	Signals  SignalConfig      `mapstructure:"signals" json:"signals" yaml:"signals"`
}

// WorkloadConfig names the executable to run. A relative Path containing a
// separator is evaluated relative to WorkDir.
type WorkloadConfig struct {
	Path string   `mapstructure:"path" json:"path" yaml:"path"`
	Args []string `mapstructure:"args" json:"args,omitempty" yaml:"args,omitempty"`
}

// ThreadConfig holds parallelism hints for the workload's numeric libraries.
// Zero values fall back to Count.
type ThreadConfig struct {
	Count    int `mapstructure:"count" json:"count" yaml:"count" validate:"gte=1"`
	OMP      int `mapstructure:"omp" json:"omp" yaml:"omp" validate:"gte=0"`
	MKL      int `mapstructure:"mkl" json:"mkl" yaml:"mkl" validate:"gte=0"`
	OpenBLAS int `mapstructure:"openblas" json:"openblas" yaml:"openblas" validate:"gte=0"`
}

// DeviceConfig controls accelerator visibility
type DeviceConfig struct {
	Accelerators bool   `mapstructure:"accelerators" json:"accelerators" yaml:"accelerators"`
	Visible      string `mapstructure:"visible" json:"visible,omitempty" yaml:"visible,omitempty"`
}

// DirConfig lists the directories the job needs
type DirConfig struct {
	Logs   string   `mapstructure:"logs" json:"logs" yaml:"logs" validate:"required"`
	Output string   `mapstructure:"output" json:"output" yaml:"output" validate:"required"`
	Extra  []string `mapstructure:"extra" json:"extra,omitempty" yaml:"extra,omitempty"`
}

// LogConfig configures where output goes. Empty Stdout/Stderr inherit the
// wrapper's own streams.
type LogConfig struct {
	Stdout string `mapstructure:"stdout" json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr string `mapstructure:"stderr" json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Detail string `mapstructure:"detail" json:"detail,omitempty" yaml:"detail,omitempty"`
	Level  string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" json:"format" yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the optional metrics outputs
type MetricsConfig struct {
	Textfile        string        `mapstructure:"textfile" json:"textfile,omitempty" yaml:"textfile,omitempty"`
	Listen          string        `mapstructure:"listen" json:"listen,omitempty" yaml:"listen,omitempty"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LedgerConfig configures the optional run history database
type LedgerConfig struct {
	Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`
}

// SignalConfig controls relaying. Signals in NoForward are still caught so
// the wrapper survives them, but are not passed on to the workload. Use it
// when the scheduler already signals every process of the step.
type SignalConfig struct {
	NoForward []string `mapstructure:"no_forward" json:"no_forward,omitempty" yaml:"no_forward,omitempty" validate:"dive,oneof=SIGINT SIGTERM SIGHUP SIGUSR1 SIGUSR2"`
}

// NewViper returns a viper instance with jobwrap defaults and environment
// bindings. Config files are added by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scheduler-provided values, jobwrap's own variable wins
	v.BindEnv("job_id", EnvPrefix+"_JOB_ID", "SLURM_JOB_ID")
	v.BindEnv("job_name", EnvPrefix+"_JOB_NAME", "SLURM_JOB_NAME")
	v.BindEnv("threads.count", EnvPrefix+"_THREADS_COUNT", "SLURM_CPUS_PER_TASK")

	return v
}

// SetDefaults registers every key so AutomaticEnv can see it
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_dir", ".")
	v.SetDefault("work_dir", "src")
	v.SetDefault("job_id", "unknown")
	v.SetDefault("job_name", "simulation")
	v.SetDefault("workload.path", "")
	v.SetDefault("workload.args", []string{})
	v.SetDefault("threads.count", 16)
	v.SetDefault("threads.omp", 0)
	v.SetDefault("threads.mkl", 0)
	v.SetDefault("threads.openblas", 0)
	v.SetDefault("devices.accelerators", false)
	v.SetDefault("devices.visible", "")
	v.SetDefault("dirs.logs", "logs")
	v.SetDefault("dirs.output", "output")
	v.SetDefault("dirs.extra", []string{})
	v.SetDefault("logs.stdout", "")
	v.SetDefault("logs.stderr", "")
	v.SetDefault("logs.detail", "")
	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.shutdown_timeout", "5s")
	v.SetDefault("ledger.path", "")
	v.SetDefault("signals.no_forward", []string{})
}

// Load decodes, resolves and validates a JobConfig
func Load(v *viper.Viper) (*JobConfig, error) {
	var cfg JobConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolve makes every path absolute and fills derived defaults
func (c *JobConfig) resolve() error {
	base, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base_dir %q: %w", c.BaseDir, err)
	}
	c.BaseDir = base

	paths := []*string{
		&c.WorkDir, &c.Dirs.Logs, &c.Dirs.Output,
		&c.Logs.Stdout, &c.Logs.Stderr, &c.Logs.Detail,
		&c.Metrics.Textfile, &c.Ledger.Path,
	}
	for i := range c.Dirs.Extra {
		paths = append(paths, &c.Dirs.Extra[i])
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		resolved, err := under(base, *p)
		if err != nil {
			return err
		}
		*p = resolved
	}

	// viper lowercases map keys, environment names are conventionally upper case
	if len(c.Env) > 0 {
		env := make(map[string]string, len(c.Env))
		for k, val := range c.Env {
			env[strings.ToUpper(k)] = val
		}
		c.Env = env
	}

	if c.Threads.OMP == 0 {
		c.Threads.OMP = c.Threads.Count
	}
	if c.Threads.MKL == 0 {
		c.Threads.MKL = c.Threads.Count
	}
	if c.Threads.OpenBLAS == 0 {
		c.Threads.OpenBLAS = c.Threads.Count
	}
	return nil
}

// under roots relative paths in base without letting symlinks escape it.
// Absolute paths are taken as given.
func under(base, p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	joined, err := securejoin.SecureJoin(base, p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q under %s: %w", p, base, err)
	}
	return joined, nil
}

// Directories returns every directory the job requires, in creation order
func (c *JobConfig) Directories() []string {
	dirs := []string{c.Dirs.Logs, c.WorkDir, c.Dirs.Output}
	return append(dirs, c.Dirs.Extra...)
}

// LogDestinations are the resolved output paths of one run
type LogDestinations struct {
	Stdout   string `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Detail   string `json:"detail" yaml:"detail"`
	ErrorLog string `json:"error_log" yaml:"error_log"`
}

// LogDestinations derives the run's output paths. Paths are used verbatim:
// scheduler placeholders are expected to be resolved already.
func (c *JobConfig) LogDestinations(now time.Time) LogDestinations {
	dest := LogDestinations{
		Stdout: c.Logs.Stdout,
		Stderr: c.Logs.Stderr,
		Detail: c.Logs.Detail,
	}
	if dest.Detail == "" {
		dest.Detail = logging.DetailLogPath(c.Dirs.Logs, c.JobName, c.JobID, now)
	}

	dest.ErrorLog = dest.Stderr
	if dest.ErrorLog == "" {
		dest.ErrorLog = stderrTarget()
	}
	return dest
}

// Parents returns the directories that must exist before the files are opened
func (d LogDestinations) Parents() []string {
	var dirs []string
	for _, p := range []string{d.Stdout, d.Stderr, d.Detail} {
		if p != "" {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	return dirs
}

// stderrTarget reports where the scheduler pointed our stderr
var stderrTarget = func() string {
	target, err := os.Readlink("/proc/self/fd/2")
	if err != nil || !filepath.IsAbs(target) {
		return "stderr"
	}
	return target
}
