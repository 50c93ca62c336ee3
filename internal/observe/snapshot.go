package observe

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/birrulwldain/jobwrap/internal/cgroups"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

// Snapshot labels with a fixed heading
const (
	LabelPre  = "pre"
	LabelPost = "post"
)

// ResourceSnapshot is a point-in-time view of node and job resources.
// Sizes are bytes.
type ResourceSnapshot struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`

	MemTotal     uint64 `json:"mem_total"`
	MemUsed      uint64 `json:"mem_used"`
	MemFree      uint64 `json:"mem_free"`
	MemAvailable uint64 `json:"mem_available"`
	SwapTotal    uint64 `json:"swap_total"`
	SwapUsed     uint64 `json:"swap_used"`

	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`

	// Wrapper's own resident set
	SelfRSS uint64 `json:"self_rss"`

	// Nil when the job cgroup is not readable
	Cgroup *cgroups.MemoryStats `json:"cgroup,omitempty"`
}

// Heading returns the log heading for a snapshot label
func Heading(label string) string {
	switch label {
	case LabelPre:
		return "Memori sebelum eksekusi"
	case LabelPost:
		return "Memori setelah eksekusi"
	default:
		return fmt.Sprintf("Memori (%s)", label)
	}
}

// CgroupReader reads the job cgroup's memory accounting
type CgroupReader interface {
	Self() (string, error)
	ReadMemory(path string) (*cgroups.MemoryStats, error)
}

// Snapshotter queries the OS and emits snapshots to the log sink
type Snapshotter struct {
	logger *logging.Logger
	cgroup CgroupReader
	pid    int

	// host probes, replaced in tests
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
	swapMemory    func(context.Context) (*mem.SwapMemoryStat, error)
	loadAvg       func(context.Context) (*load.AvgStat, error)
	now           func() time.Time
}

// NewSnapshotter creates a snapshotter reading the host and the job cgroup
func NewSnapshotter(logger *logging.Logger) *Snapshotter {
	return &Snapshotter{
		logger:        logger,
		cgroup:        cgroups.New(),
		pid:           os.Getpid(),
		virtualMemory: mem.VirtualMemoryWithContext,
		swapMemory:    mem.SwapMemoryWithContext,
		loadAvg:       load.AvgWithContext,
		now:           time.Now,
	}
}

// Take queries the OS without logging. It fails only when system memory
// cannot be read; the other sources are best effort.
func (s *Snapshotter) Take(ctx context.Context, label string) (*ResourceSnapshot, error) {
	vm, err := s.virtualMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}

	snap := &ResourceSnapshot{
		Label:        label,
		Timestamp:    s.now(),
		MemTotal:     vm.Total,
		MemUsed:      vm.Used,
		MemFree:      vm.Free,
		MemAvailable: vm.Available,
	}

	if swap, err := s.swapMemory(ctx); err == nil {
		snap.SwapTotal = swap.Total
		snap.SwapUsed = swap.Used
	} else {
		s.logger.Debug("Swap tidak terbaca", logging.Fields{"error": err.Error()})
	}

	if avg, err := s.loadAvg(ctx); err == nil {
		snap.Load1, snap.Load5, snap.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(s.pid)); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			snap.SelfRSS = info.RSS
		}
	}

	if s.cgroup != nil {
		if path, err := s.cgroup.Self(); err == nil {
			if stats, err := s.cgroup.ReadMemory(path); err == nil {
				snap.Cgroup = stats
			} else {
				s.logger.Debug("Cgroup tidak terbaca", logging.Fields{"path": path, "error": err.Error()})
			}
		}
	}

	return snap, nil
}

// Snapshot takes a snapshot and writes it to the log sink. Failures are
// logged as warnings and yield nil.
func (s *Snapshotter) Snapshot(ctx context.Context, label string) *ResourceSnapshot {
	snap, err := s.Take(ctx, label)
	if err != nil {
		s.logger.Warn("Snapshot sumber daya gagal", logging.Fields{
			"label": label,
			"error": err.Error(),
		})
		return nil
	}

	fields := logging.Fields{
		"total":     humanize.IBytes(snap.MemTotal),
		"used":      humanize.IBytes(snap.MemUsed),
		"free":      humanize.IBytes(snap.MemFree),
		"available": humanize.IBytes(snap.MemAvailable),
		"load1":     fmt.Sprintf("%.2f", snap.Load1),
	}
	if snap.Cgroup != nil {
		fields["cgroup_current"] = humanize.IBytes(snap.Cgroup.Current)
		if snap.Cgroup.Peak > 0 {
			fields["cgroup_peak"] = humanize.IBytes(snap.Cgroup.Peak)
		}
	}
	if s.logger.JSON() {
		fields["swap_total"] = humanize.IBytes(snap.SwapTotal)
		fields["swap_used"] = humanize.IBytes(snap.SwapUsed)
		if snap.Cgroup != nil {
			fields["cgroup_limit"] = "unlimited"
			if snap.Cgroup.Limit > 0 {
				fields["cgroup_limit"] = humanize.IBytes(snap.Cgroup.Limit)
			}
		}
		s.logger.Info(Heading(label), fields)
		return snap
	}
	s.logger.Info(Heading(label), fields)

	if err := Render(s.logger.Writer(), snap); err != nil {
		s.logger.Warn("Gagal menulis tabel memori", logging.Fields{"error": err.Error()})
	}
	return snap
}

// Render writes a free(1)-style table of the snapshot
func Render(w io.Writer, snap *ResourceSnapshot) error {
	table := tablewriter.NewWriter(w)
	table.Header("", "Total", "Used", "Free", "Available")

	table.Append("Mem:",
		humanize.IBytes(snap.MemTotal),
		humanize.IBytes(snap.MemUsed),
		humanize.IBytes(snap.MemFree),
		humanize.IBytes(snap.MemAvailable),
	)
	table.Append("Swap:",
		humanize.IBytes(snap.SwapTotal),
		humanize.IBytes(snap.SwapUsed),
		humanize.IBytes(snap.SwapTotal-min(snap.SwapUsed, snap.SwapTotal)),
		"",
	)

	if cg := snap.Cgroup; cg != nil {
		limit, free := "unlimited", ""
		if cg.Limit > 0 {
			limit = humanize.IBytes(cg.Limit)
			free = humanize.IBytes(cg.Limit - min(cg.Current, cg.Limit))
		}
		table.Append("Cgroup:", limit, humanize.IBytes(cg.Current), free, "")
	}

	return table.Render()
}
