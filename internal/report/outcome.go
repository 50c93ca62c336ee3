package report

import (
	"fmt"
	"time"

	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// Outcome is the binary verdict on a run
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Classify maps a result to its outcome and the wrapper's exit code.
// A failure never yields exit code 0.
func Classify(r *RunResult) (Outcome, int) {
	if r == nil {
		return Failure, ExitStartFailed
	}
	if r.Succeeded() {
		return Success, 0
	}
	if r.ExitCode == 0 {
		return Failure, ExitStartFailed
	}
	return Failure, r.ExitCode
}

// Reporter logs the outcome of a run and records it into metrics
type Reporter struct {
	logger   *logging.Logger
	errorLog string
	metrics  *Metrics
}

// NewReporter creates a reporter. errorLog is the path failure messages
// point the operator to; metrics may be nil.
func NewReporter(logger *logging.Logger, errorLog string, metrics *Metrics) *Reporter {
	return &Reporter{
		logger:   logger,
		errorLog: errorLog,
		metrics:  metrics,
	}
}

// Report logs exactly one outcome message and returns the exit code
func (r *Reporter) Report(res *RunResult) (Outcome, int) {
	outcome, code := Classify(res)

	if r.metrics != nil && res != nil {
		r.metrics.RecordResult(res)
	}

	if outcome == Success {
		r.logger.Info("Simulasi selesai dengan sukses", logging.Fields{
			"exit_code": 0,
			"duration":  res.Duration.Round(time.Millisecond).String(),
		})
		return outcome, code
	}

	fields := logging.Fields{"exit_code": code}
	if res != nil {
		fields["termination"] = string(res.Termination)
		if res.Signal != "" {
			fields["signal"] = res.Signal
		}
		if res.StartError != "" {
			fields["error"] = res.StartError
		}
	}
	r.logger.Error(fmt.Sprintf("Simulasi gagal, periksa log error di %s", r.errorLog), fields)
	return outcome, code
}
