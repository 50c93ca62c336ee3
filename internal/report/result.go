package report

import (
	"time"

	"github.com/google/uuid"
)

// Termination says how the workload ended
type Termination string

const (
	Exited      Termination = "exited"
	Signaled    Termination = "signaled"
	StartFailed Termination = "start_failed"
)

// Exit codes for failures that have no process status
const (
	ExitStartFailed   = 1
	ExitNotExecutable = 126
	ExitNotFound      = 127
	ExitSetupFailed   = 2
)

// RunResult is immutable job-level truth. Set once, never change.
type RunResult struct {
	// Identity
	JobID    string `json:"job_id"`
	RunID    string `json:"run_id"`
	Workload string `json:"workload"`
	PID      int    `json:"pid,omitempty"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Outcome
	ExitCode    int         `json:"exit_code"`
	Termination Termination `json:"termination"`
	Signal      string      `json:"signal,omitempty"`
	StartError  string      `json:"start_error,omitempty"`

	// Child resource usage
	MaxRSSKiB  int64         `json:"max_rss_kib"`
	UserTime   time.Duration `json:"user_time"`
	SystemTime time.Duration `json:"system_time"`
}

// NewRunResult creates a result with a fresh run id
func NewRunResult(jobID, workload string, pid int, start, end time.Time) *RunResult {
	return &RunResult{
		JobID:     jobID,
		RunID:     uuid.NewString(),
		Workload:  workload,
		PID:       pid,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
	}
}

// Succeeded reports whether the workload exited cleanly with status 0
func (r *RunResult) Succeeded() bool {
	return r.Termination == Exited && r.ExitCode == 0
}
