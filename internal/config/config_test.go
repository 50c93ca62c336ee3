package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SLURM_JOB_ID", "")
	t.Setenv("SLURM_CPUS_PER_TASK", "")

	v := NewViper()
	v.Set("base_dir", base)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, base, cfg.BaseDir)
	assert.Equal(t, filepath.Join(base, "src"), cfg.WorkDir)
	assert.Equal(t, filepath.Join(base, "logs"), cfg.Dirs.Logs)
	assert.Equal(t, filepath.Join(base, "output"), cfg.Dirs.Output)
	assert.Equal(t, "unknown", cfg.JobID)
	assert.Equal(t, "simulation", cfg.JobName)
	assert.Equal(t, 16, cfg.Threads.Count)
	assert.Equal(t, 16, cfg.Threads.OMP)
	assert.Equal(t, 16, cfg.Threads.MKL)
	assert.Equal(t, 16, cfg.Threads.OpenBLAS)
	assert.False(t, cfg.Devices.Accelerators)
	assert.Equal(t, 5*time.Second, cfg.Metrics.ShutdownTimeout)
}

func TestLoadFromSchedulerEnv(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SLURM_JOB_ID", "98765")
	t.Setenv("SLURM_JOB_NAME", "spectral")
	t.Setenv("SLURM_CPUS_PER_TASK", "8")
	t.Setenv("JOBWRAP_THREADS_MKL", "4")
	t.Setenv("JOBWRAP_BASE_DIR", base)

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "98765", cfg.JobID)
	assert.Equal(t, "spectral", cfg.JobName)
	assert.Equal(t, 8, cfg.Threads.Count)
	assert.Equal(t, 8, cfg.Threads.OMP)
	assert.Equal(t, 4, cfg.Threads.MKL)
}

func TestOwnEnvWinsOverScheduler(t *testing.T) {
	t.Setenv("SLURM_JOB_ID", "111")
	t.Setenv("JOBWRAP_JOB_ID", "222")

	v := NewViper()
	v.Set("base_dir", t.TempDir())
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "222", cfg.JobID)
}

func TestLoadFromYAML(t *testing.T) {
	base := t.TempDir()
	doc := `
base_dir: ` + base + `
work_dir: /opt/sim
workload:
  path: ./simulasi
  args: ["--samples", "500"]
devices:
  accelerators: true
  visible: "0,1"
dirs:
  extra: [data]
logs:
  stderr: logs/err.log
  format: json
metrics:
  shutdown_timeout: 2s
env:
  PYTHONUNBUFFERED: "1"
`
	v := NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/opt/sim", cfg.WorkDir)
	assert.Equal(t, "./simulasi", cfg.Workload.Path)
	assert.Equal(t, []string{"--samples", "500"}, cfg.Workload.Args)
	assert.True(t, cfg.Devices.Accelerators)
	assert.Equal(t, "0,1", cfg.Devices.Visible)
	assert.Equal(t, []string{filepath.Join(base, "data")}, cfg.Dirs.Extra)
	assert.Equal(t, filepath.Join(base, "logs", "err.log"), cfg.Logs.Stderr)
	assert.Equal(t, "json", cfg.Logs.Format)
	assert.Equal(t, 2*time.Second, cfg.Metrics.ShutdownTimeout)
	assert.Equal(t, "1", cfg.Env["PYTHONUNBUFFERED"])
}

func TestRelativePathsCannotEscapeBase(t *testing.T) {
	base := t.TempDir()
	v := NewViper()
	v.Set("base_dir", base)
	v.Set("dirs.output", "../../outside")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.Dirs.Output, base), cfg.Dirs.Output)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"zero threads", "threads.count", 0},
		{"bad level", "logs.level", "verbose"},
		{"bad format", "logs.format", "xml"},
		{"empty job id", "job_id", ""},
		{"unknown signal", "signals.no_forward", "SIGKILL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViper()
			v.Set("base_dir", t.TempDir())
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestLogDestinations(t *testing.T) {
	orig := stderrTarget
	stderrTarget = func() string { return "/scheduler/slurm-42.err" }
	t.Cleanup(func() { stderrTarget = orig })

	cfg := &JobConfig{
		JobID:   "42",
		JobName: "simulation",
		Dirs:    DirConfig{Logs: "/base/logs"},
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	dest := cfg.LogDestinations(now)
	assert.Empty(t, dest.Stdout)
	assert.Equal(t, "/base/logs/simulation_42_20250102_030405.log", dest.Detail)
	assert.Equal(t, "/scheduler/slurm-42.err", dest.ErrorLog)
	assert.Equal(t, []string{"/base/logs"}, dest.Parents())

	cfg.Logs.Stderr = "/base/logs/slurm-%j.err"
	dest = cfg.LogDestinations(now)
	assert.Equal(t, "/base/logs/slurm-%j.err", dest.ErrorLog, "templated paths stay opaque")
}

func TestDirectories(t *testing.T) {
	cfg := &JobConfig{
		WorkDir: "/b/src",
		Dirs:    DirConfig{Logs: "/b/logs", Output: "/b/output", Extra: []string{"/b/data"}},
	}
	assert.Equal(t, []string{"/b/logs", "/b/src", "/b/output", "/b/data"}, cfg.Directories())
}

func TestSignalsNoForwardFromEnv(t *testing.T) {
	t.Setenv("JOBWRAP_SIGNALS_NO_FORWARD", "SIGTERM,SIGHUP")

	v := NewViper()
	v.Set("base_dir", t.TempDir())
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIGTERM", "SIGHUP"}, cfg.Signals.NoForward)
}
