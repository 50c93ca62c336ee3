package wrapper

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/birrulwldain/jobwrap/internal/config"
	"github.com/birrulwldain/jobwrap/internal/observe"
	"github.com/birrulwldain/jobwrap/internal/provision"
	"github.com/birrulwldain/jobwrap/internal/report"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// ForwardedSignals are relayed to the workload's process group
var ForwardedSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Launcher runs one workload to completion
type Launcher struct {
	jobID  string
	env    *provision.Environment
	dest   config.LogDestinations
	logger *logging.Logger

	// used when dest leaves a stream empty
	stdout io.Writer
	stderr io.Writer

	// caught but not relayed
	skip map[syscall.Signal]bool

	// notified when the child has started, for tests
	started func(pid int)
}

// NewLauncher creates a launcher for a provisioned environment
func NewLauncher(jobID string, env *provision.Environment, dest config.LogDestinations, logger *logging.Logger) *Launcher {
	return &Launcher{
		jobID:  jobID,
		env:    env,
		dest:   dest,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SkipForwarding stops the named signals ("SIGTERM") from being relayed.
// They are still caught, so the wrapper keeps waiting for the child.
func (l *Launcher) SkipForwarding(names ...string) *Launcher {
	for _, name := range names {
		sig := unix.SignalNum(name)
		if sig == 0 {
			continue
		}
		if l.skip == nil {
			l.skip = make(map[syscall.Signal]bool)
		}
		l.skip[sig] = true
	}
	return l
}

// Run spawns the workload and blocks until it terminates. It always
// returns a result; start failures are recorded, not returned.
func (l *Launcher) Run(ctx context.Context, path string, args ...string) *report.RunResult {
	timing := observe.NewTiming()

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = l.env.Dir
	cmd.Env = l.env.Vars

	// Own process group so forwarded signals reach the whole workload tree
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Cancel = func() error {
		return l.forward(cmd.Process.Pid, syscall.SIGTERM)
	}

	stdout, stderr, closeOutputs, err := l.outputs()
	if err != nil {
		timing.Complete()
		return l.startFailed(path, timing, report.ExitStartFailed, err)
	}
	defer closeOutputs()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Subscribe before starting so nothing slips through the gap
	sigCh := make(chan os.Signal, len(ForwardedSignals))
	signal.Notify(sigCh, ForwardedSignals...)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		timing.Complete()
		return l.startFailed(path, timing, startFailureCode(err), err)
	}

	pid := cmd.Process.Pid
	l.logger.Info("Workload dimulai", logging.Fields{
		"pid":      pid,
		"workload": path,
		"workdir":  cmd.Dir,
	})
	if l.started != nil {
		l.started(pid)
	}

	done := make(chan struct{})
	go l.relay(pid, sigCh, done)

	waitErr := cmd.Wait()
	close(done)
	timing.Complete()

	res := report.NewRunResult(l.jobID, path, pid, timing.StartedAt, timing.CompletedAt)
	waited(res, cmd.ProcessState, waitErr)

	l.logger.Debug("Workload berakhir", logging.Fields{
		"pid":         pid,
		"exit_code":   res.ExitCode,
		"termination": string(res.Termination),
	})
	return res
}

// relay forwards signals until the child is reaped. The wrapper itself
// keeps waiting so the child's death is observed.
func (l *Launcher) relay(pid int, sigCh <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigCh:
			if s, ok := sig.(syscall.Signal); ok && l.skip[s] {
				l.logger.Info("Sinyal tidak diteruskan, workload menerimanya langsung", logging.Fields{
					"signal": SignalName(s),
				})
				continue
			}
			if err := l.forward(pid, sig); err != nil {
				l.logger.Warn("Gagal meneruskan sinyal", logging.Fields{
					"signal": sig.String(),
					"error":  err.Error(),
				})
			}
		case <-done:
			return
		}
	}
}

func (l *Launcher) forward(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	l.logger.Info("Sinyal diteruskan ke workload", logging.Fields{
		"signal": SignalName(s),
		"pgid":   pid,
	})
	if err := unix.Kill(-pid, s); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

// outputs opens the configured stdout/stderr files in append mode.
// The child writes to the descriptors directly.
func (l *Launcher) outputs() (io.Writer, io.Writer, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	open := func(path string, fallback io.Writer) (io.Writer, error) {
		if path == "" {
			return fallback, nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		files = append(files, f)
		return f, nil
	}

	stdout, err := open(l.dest.Stdout, l.stdout)
	if err != nil {
		return nil, nil, nil, err
	}

	var stderr io.Writer
	if l.dest.Stderr != "" && l.dest.Stderr == l.dest.Stdout {
		stderr = stdout
	} else if stderr, err = open(l.dest.Stderr, l.stderr); err != nil {
		closeAll()
		return nil, nil, nil, err
	}

	return stdout, stderr, closeAll, nil
}

func (l *Launcher) startFailed(path string, timing *observe.Timing, code int, err error) *report.RunResult {
	res := report.NewRunResult(l.jobID, path, 0, timing.StartedAt, timing.CompletedAt)
	res.Termination = report.StartFailed
	res.ExitCode = code
	res.StartError = err.Error()

	l.logger.Error("Workload gagal dijalankan", logging.Fields{
		"workload":  path,
		"exit_code": res.ExitCode,
		"error":     err.Error(),
	})
	return res
}
