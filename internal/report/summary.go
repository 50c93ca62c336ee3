package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// Summary is the final human-readable account of a run
type Summary struct {
	JobID   string
	JobName string
	Result  *RunResult
	Outcome Outcome
	Code    int
}

// Render writes the summary table. This is what operators grep for.
func (s *Summary) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	table.Append("Job", fmt.Sprintf("%s (%s)", s.JobName, s.JobID))
	table.Append("Outcome", string(s.Outcome))
	table.Append("Exit Code", fmt.Sprintf("%d", s.Code))

	if r := s.Result; r != nil {
		table.Append("Run ID", r.RunID)
		table.Append("Workload", r.Workload)
		table.Append("PID", fmt.Sprintf("%d", r.PID))
		table.Append("Termination", string(r.Termination))
		if r.Signal != "" {
			table.Append("Signal", r.Signal)
		}
		if r.StartError != "" {
			table.Append("Start Error", r.StartError)
		}
		table.Append("Duration", r.Duration.Round(time.Millisecond).String())
		table.Append("Max RSS", humanize.IBytes(uint64(r.MaxRSSKiB)*1024))
		table.Append("CPU User", r.UserTime.Round(time.Millisecond).String())
		table.Append("CPU System", r.SystemTime.Round(time.Millisecond).String())
	}

	return table.Render()
}

// Fields returns the summary as structured log fields, for JSON logs
func (s *Summary) Fields() logging.Fields {
	f := logging.Fields{
		"job_id":    s.JobID,
		"job_name":  s.JobName,
		"outcome":   string(s.Outcome),
		"exit_code": s.Code,
	}
	if r := s.Result; r != nil {
		f["run_id"] = r.RunID
		f["workload"] = r.Workload
		f["pid"] = r.PID
		f["termination"] = string(r.Termination)
		if r.Signal != "" {
			f["signal"] = r.Signal
		}
		if r.StartError != "" {
			f["start_error"] = r.StartError
		}
		f["duration"] = r.Duration.Round(time.Millisecond).String()
		f["max_rss"] = humanize.IBytes(uint64(r.MaxRSSKiB) * 1024)
		f["cpu_user"] = r.UserTime.Round(time.Millisecond).String()
		f["cpu_system"] = r.SystemTime.Round(time.Millisecond).String()
	}
	return f
}
