package wrapper

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/birrulwldain/jobwrap/internal/report"
)

// No retries. No restarts. No policy. Just how the process ended.

// waited fills res from the reaped child. Without a wait status nothing is
// known about how the child ended, so it counts as a start failure.
func waited(res *report.RunResult, state *os.ProcessState, waitErr error) {
	if state == nil {
		res.Termination = report.StartFailed
		res.ExitCode = report.ExitStartFailed
		if waitErr != nil {
			res.StartError = waitErr.Error()
		}
		return
	}
	classify(res, state)
	usage(res, state)
}

// classify reads the wait status. A signal death maps to 128+N like a shell.
func classify(res *report.RunResult, state *os.ProcessState) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		res.Termination = report.Exited
		res.ExitCode = state.ExitCode()
		return
	}

	if ws.Signaled() {
		res.Termination = report.Signaled
		res.ExitCode = 128 + int(ws.Signal())
		res.Signal = SignalName(ws.Signal())
		return
	}

	res.Termination = report.Exited
	res.ExitCode = ws.ExitStatus()
}

// usage copies the child's resource accounting. Linux reports ru_maxrss in KiB.
func usage(res *report.RunResult, state *os.ProcessState) {
	res.UserTime = state.UserTime()
	res.SystemTime = state.SystemTime()
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		res.MaxRSSKiB = ru.Maxrss
	}
}

// startFailureCode follows the shell: 127 not found, 126 not executable
func startFailureCode(err error) int {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return report.ExitNotFound
	case errors.Is(err, fs.ErrPermission):
		return report.ExitNotExecutable
	default:
		return report.ExitStartFailed
	}
}

// SignalName returns "SIGTERM" style names, or "signal N" when unknown
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
