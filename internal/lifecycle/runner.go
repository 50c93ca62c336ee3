package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/birrulwldain/jobwrap/internal/config"
	"github.com/birrulwldain/jobwrap/internal/ledger"
	"github.com/birrulwldain/jobwrap/internal/observe"
	"github.com/birrulwldain/jobwrap/internal/provision"
	"github.com/birrulwldain/jobwrap/internal/report"
	"github.com/birrulwldain/jobwrap/internal/statusserver"
	"github.com/birrulwldain/jobwrap/internal/wrapper"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// Provisioner prepares the workload environment
type Provisioner interface {
	Provision() (*provision.Environment, error)
}

// Snapshotter emits a resource snapshot to the log sink
type Snapshotter interface {
	Snapshot(ctx context.Context, label string) *observe.ResourceSnapshot
}

// Launcher runs the workload to completion
type Launcher interface {
	Run(ctx context.Context, path string, args ...string) *report.RunResult
}

// Runner drives one job: provision, snapshot, launch, report, snapshot,
// summarize. Everything after provisioning except the launch is diagnostic.
type Runner struct {
	cfg    *config.JobConfig
	dest   config.LogDestinations
	logger *logging.Logger

	provisioner Provisioner
	snapshotter Snapshotter
	newLauncher func(env *provision.Environment) Launcher
	reporter    *report.Reporter
	metrics     *report.Metrics
	status      *statusserver.Server
}

// New wires the runner's components from configuration
func New(cfg *config.JobConfig, dest config.LogDestinations, logger *logging.Logger) *Runner {
	metrics := report.NewMetrics(cfg.JobID, cfg.JobName)

	r := &Runner{
		cfg:         cfg,
		dest:        dest,
		logger:      logger,
		provisioner: provision.New(cfg, dest, logger),
		snapshotter: observe.NewSnapshotter(logger),
		reporter:    report.NewReporter(logger, dest.ErrorLog, metrics),
		metrics:     metrics,
	}
	r.newLauncher = func(env *provision.Environment) Launcher {
		return wrapper.NewLauncher(cfg.JobID, env, dest, logger).SkipForwarding(cfg.Signals.NoForward...)
	}
	if cfg.Metrics.Listen != "" {
		r.status = statusserver.New(cfg.Metrics.Listen, cfg.JobID, metrics.Registry(), logger)
	}
	return r
}

// Execute runs the job and returns the wrapper's exit code
func (r *Runner) Execute(ctx context.Context) int {
	r.logger.Info("Memulai job", logging.Fields{
		"job_id":   r.cfg.JobID,
		"job_name": r.cfg.JobName,
		"base_dir": r.cfg.BaseDir,
		"threads":  r.cfg.Threads.Count,
	})

	if r.cfg.Workload.Path == "" {
		r.logger.Error("Workload tidak ditentukan")
		return report.ExitSetupFailed
	}

	r.startStatus()
	defer r.stopStatus()

	r.setPhase(statusserver.PhaseProvisioning)
	env, err := r.provisioner.Provision()
	if err != nil {
		fields := logging.Fields{"error": err.Error()}
		var setupErr *provision.SetupError
		if errors.As(err, &setupErr) {
			fields["step"] = setupErr.Step
			fields["path"] = setupErr.Path
		}
		r.logger.Error("Persiapan lingkungan gagal, workload tidak dijalankan", fields)
		return report.ExitSetupFailed
	}

	if r.dest.Detail != "" {
		if err := r.logger.AttachFile(r.dest.Detail); err != nil {
			r.logger.Warn("Log detail tidak dapat dibuka", logging.Fields{"error": err.Error()})
		}
	}

	pre := r.snapshotter.Snapshot(ctx, observe.LabelPre)
	r.metrics.RecordSnapshot(pre)

	r.setPhase(statusserver.PhaseRunning)
	res := r.newLauncher(env).Run(ctx, r.cfg.Workload.Path, r.cfg.Workload.Args...)

	r.setPhase(statusserver.PhaseReporting)
	outcome, code := r.reporter.Report(res)

	// Post snapshot only once the wait has returned
	post := r.snapshotter.Snapshot(ctx, observe.LabelPost)
	r.metrics.RecordSnapshot(post)

	summary := &report.Summary{
		JobID:   r.cfg.JobID,
		JobName: r.cfg.JobName,
		Result:  res,
		Outcome: outcome,
		Code:    code,
	}
	if r.logger.JSON() {
		r.logger.Info("Ringkasan job", summary.Fields())
	} else if err := summary.Render(r.logger.Writer()); err != nil {
		r.logger.Warn("Ringkasan tidak dapat ditulis", logging.Fields{"error": err.Error()})
	}

	r.writeTextfile()
	r.recordLedger(ctx, res, outcome)

	r.setPhase(statusserver.PhaseDone)
	return code
}

func (r *Runner) writeTextfile() {
	if r.cfg.Metrics.Textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
		r.logger.Warn("Metrik tidak dapat ditulis", logging.Fields{"error": err.Error()})
		return
	}
	r.logger.Debug("Metrik ditulis", logging.Fields{"path": r.cfg.Metrics.Textfile})
}

func (r *Runner) recordLedger(ctx context.Context, res *report.RunResult, outcome report.Outcome) {
	if r.cfg.Ledger.Path == "" || res == nil {
		return
	}
	if err := record(ctx, r.cfg.Ledger.Path, &ledger.Entry{
		JobName: r.cfg.JobName,
		Outcome: outcome,
		Result:  *res,
	}); err != nil {
		r.logger.Warn("Riwayat run tidak dapat dicatat", logging.Fields{"error": err.Error()})
	}
}

func record(ctx context.Context, path string, e *ledger.Entry) error {
	l, err := ledger.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer l.Close()
	return l.Record(ctx, e)
}

func (r *Runner) startStatus() {
	if r.status == nil {
		return
	}
	if err := r.status.Start(); err != nil {
		r.logger.Warn("Status server tidak dapat dijalankan", logging.Fields{"error": err.Error()})
		r.status = nil
	}
}

func (r *Runner) stopStatus() {
	if r.status == nil {
		return
	}
	timeout := r.cfg.Metrics.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.status.Shutdown(ctx); err != nil {
		r.logger.Warn("Status server tidak berhenti dengan bersih", logging.Fields{"error": err.Error()})
	}
}

func (r *Runner) setPhase(phase string) {
	if r.status != nil {
		r.status.SetPhase(phase)
	}
}
