package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birrulwldain/jobwrap/internal/observe"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

func exited(code int) *RunResult {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRunResult("42", "/opt/sim/bin/solver", 1234, start, start.Add(90*time.Second))
	r.Termination = Exited
	r.ExitCode = code
	r.MaxRSSKiB = 2048
	return r
}

func TestNewRunResult(t *testing.T) {
	r := exited(0)
	assert.Equal(t, 90*time.Second, r.Duration)
	assert.Len(t, r.RunID, 36)
	assert.NotEqual(t, r.RunID, exited(0).RunID)
}

func TestClassify(t *testing.T) {
	signaled := exited(143)
	signaled.Termination = Signaled
	signaled.Signal = "SIGTERM"

	notFound := &RunResult{Termination: StartFailed, ExitCode: ExitNotFound}

	tests := []struct {
		name    string
		result  *RunResult
		outcome Outcome
		code    int
	}{
		{"clean exit", exited(0), Success, 0},
		{"nonzero exit", exited(1), Failure, 1},
		{"exit 3", exited(3), Failure, 3},
		{"signal", signaled, Failure, 143},
		{"start failure", notFound, Failure, 127},
		{"signaled with zero code", &RunResult{Termination: Signaled}, Failure, ExitStartFailed},
		{"nil", nil, Failure, ExitStartFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, code := Classify(tt.result)
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, tt.code, code)
			if outcome == Failure {
				assert.NotZero(t, code)
			}
		})
	}
}

func TestReportSuccess(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(logging.New(&buf, logging.INFO, false), "/scratch/logs/job.err", nil)

	outcome, code := r.Report(exited(0))
	assert.Equal(t, Success, outcome)
	assert.Equal(t, 0, code)
	assert.Contains(t, buf.String(), "[INFO] Simulasi selesai dengan sukses")
	assert.NotContains(t, buf.String(), "gagal")
}

func TestReportFailureNamesErrorLog(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(logging.New(&buf, logging.INFO, false), "/scratch/logs/job.err", nil)

	outcome, code := r.Report(exited(1))
	assert.Equal(t, Failure, outcome)
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "[ERROR] Simulasi gagal, periksa log error di /scratch/logs/job.err")
	assert.Contains(t, buf.String(), "exit_code=1")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"), "exactly one outcome message")
}

func TestReportSignal(t *testing.T) {
	var buf bytes.Buffer
	res := exited(137)
	res.Termination = Signaled
	res.Signal = "SIGKILL"

	_, code := NewReporter(logging.New(&buf, logging.INFO, false), "stderr", nil).Report(res)
	assert.Equal(t, 137, code)
	assert.Contains(t, buf.String(), "signal=SIGKILL")
	assert.Contains(t, buf.String(), "termination=signaled")
}

func TestReportRecordsMetrics(t *testing.T) {
	m := NewMetrics("42", "simulation")
	r := NewReporter(logging.New(&bytes.Buffer{}, logging.INFO, false), "stderr", m)

	r.Report(exited(2))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.success))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exitCode))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.duration))
	assert.Equal(t, float64(2048*1024), testutil.ToFloat64(m.maxRSS))
}

func TestMetricsSnapshotPhases(t *testing.T) {
	m := NewMetrics("42", "simulation")
	m.RecordSnapshot(&observe.ResourceSnapshot{Label: observe.LabelPre, MemUsed: 100, MemAvailable: 900})
	m.RecordSnapshot(&observe.ResourceSnapshot{Label: observe.LabelPost, MemUsed: 300, MemAvailable: 700})
	m.RecordSnapshot(nil)

	assert.Equal(t, 100.0, testutil.ToFloat64(m.memoryUsed.WithLabelValues("pre")))
	assert.Equal(t, 700.0, testutil.ToFloat64(m.memoryAvailable.WithLabelValues("post")))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics("42", "simulation")
	m.RecordResult(exited(0))

	path := filepath.Join(t.TempDir(), "textfile", "jobwrap_42.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# TYPE jobwrap_job_success gauge")
	assert.Contains(t, out, `jobwrap_job_success{job_id="42",job_name="simulation"} 1`)
	assert.Contains(t, out, `jobwrap_job_exit_code{job_id="42",job_name="simulation"} 0`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSummaryRender(t *testing.T) {
	res := exited(137)
	res.Termination = Signaled
	res.Signal = "SIGKILL"

	var buf bytes.Buffer
	s := &Summary{JobID: "42", JobName: "simulation", Result: res, Outcome: Failure, Code: 137}
	require.NoError(t, s.Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "simulation (42)")
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "SIGKILL")
	assert.Contains(t, out, "2.0 MiB")
	assert.Contains(t, out, "1m30s")
}

func TestSummaryFields(t *testing.T) {
	res := exited(137)
	res.Termination = Signaled
	res.Signal = "SIGKILL"

	f := (&Summary{JobID: "42", JobName: "simulation", Result: res, Outcome: Failure, Code: 137}).Fields()
	assert.Equal(t, "failure", f["outcome"])
	assert.Equal(t, 137, f["exit_code"])
	assert.Equal(t, "SIGKILL", f["signal"])
	assert.Equal(t, "signaled", f["termination"])
	assert.Equal(t, "2.0 MiB", f["max_rss"])
	assert.NotContains(t, f, "start_error")
}
