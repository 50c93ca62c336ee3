package provision

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"

	"github.com/birrulwldain/jobwrap/internal/config"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// DeviceVars hide accelerators from CUDA and ROCm runtimes when empty
var DeviceVars = []string{"CUDA_VISIBLE_DEVICES", "HIP_VISIBLE_DEVICES", "ROCR_VISIBLE_DEVICES"}

// SetupError is a fatal provisioning failure. The workload must not start.
type SetupError struct {
	Step string // "mkdir", "workdir", "access"
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed (%s %s): %v", e.Step, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Environment is what the workload inherits: its working directory and the
// full environment. It is never applied to the wrapper's own process.
type Environment struct {
	Dir  string
	Vars []string
}

// Lookup returns the value of key in the workload environment
func (e *Environment) Lookup(key string) (string, bool) {
	prefix := key + "="
	for i := len(e.Vars) - 1; i >= 0; i-- {
		if strings.HasPrefix(e.Vars[i], prefix) {
			return strings.TrimPrefix(e.Vars[i], prefix), true
		}
	}
	return "", false
}

// Provisioner prepares directories and the workload environment
type Provisioner struct {
	cfg     *config.JobConfig
	dest    config.LogDestinations
	logger  *logging.Logger
	environ func() []string
}

// New creates a provisioner for one job
func New(cfg *config.JobConfig, dest config.LogDestinations, logger *logging.Logger) *Provisioner {
	return &Provisioner{
		cfg:     cfg,
		dest:    dest,
		logger:  logger,
		environ: os.Environ,
	}
}

// Provision creates the required directories, checks the working directory
// and builds the workload environment. Safe to call repeatedly.
func (p *Provisioner) Provision() (*Environment, error) {
	dirs := append(p.cfg.Directories(), p.dest.Parents()...)
	if err := EnsureDirectories(dirs); err != nil {
		return nil, err
	}

	for _, dir := range []string{p.cfg.Dirs.Logs, p.cfg.Dirs.Output} {
		if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
			return nil, &SetupError{Step: "access", Path: dir, Err: err}
		}
	}

	if err := CheckWorkDir(p.cfg.WorkDir); err != nil {
		return nil, err
	}

	env := &Environment{
		Dir:  p.cfg.WorkDir,
		Vars: p.buildEnv(),
	}

	p.logger.Info("Lingkungan eksekusi disiapkan", logging.Fields{
		"workdir":      env.Dir,
		"omp_threads":  p.cfg.Threads.OMP,
		"mkl_threads":  p.cfg.Threads.MKL,
		"accelerators": p.cfg.Devices.Accelerators,
	})
	return env, nil
}

// EnsureDirectories creates each directory if absent. Existing directories
// are fine; any other failure is fatal.
func EnsureDirectories(dirs []string) error {
	for _, dir := range lo.Uniq(dirs) {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &SetupError{Step: "mkdir", Path: dir, Err: err}
		}
	}
	return nil
}

// CheckWorkDir verifies dir exists, is a directory, and can be entered
func CheckWorkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &SetupError{Step: "workdir", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &SetupError{Step: "workdir", Path: dir, Err: errors.New("not a directory")}
	}
	if err := unix.Access(dir, unix.X_OK); err != nil {
		return &SetupError{Step: "workdir", Path: dir, Err: err}
	}
	return nil
}

// buildEnv layers, in order: inherited environment, thread hints, device
// visibility, job layout, configured extras.
func (p *Provisioner) buildEnv() []string {
	vars := make(map[string]string)
	for _, kv := range p.environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	vars["OMP_NUM_THREADS"] = strconv.Itoa(p.cfg.Threads.OMP)
	vars["MKL_NUM_THREADS"] = strconv.Itoa(p.cfg.Threads.MKL)
	vars["OPENBLAS_NUM_THREADS"] = strconv.Itoa(p.cfg.Threads.OpenBLAS)

	switch {
	case !p.cfg.Devices.Accelerators:
		for _, k := range DeviceVars {
			vars[k] = ""
		}
	case p.cfg.Devices.Visible != "":
		for _, k := range DeviceVars {
			vars[k] = p.cfg.Devices.Visible
		}
	}

	vars["JOBWRAP_JOB_ID"] = p.cfg.JobID
	vars["JOBWRAP_BASE_DIR"] = p.cfg.BaseDir
	vars["JOBWRAP_OUTPUT_DIR"] = p.cfg.Dirs.Output

	for k, v := range p.cfg.Env {
		vars[k] = v
	}

	env := lo.MapToSlice(vars, func(k, v string) string { return k + "=" + v })
	sort.Strings(env)
	return env
}
