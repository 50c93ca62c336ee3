package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birrulwldain/jobwrap/internal/cgroups"
	"github.com/birrulwldain/jobwrap/pkg/logging"
)

const gib = 1 << 30

type fakeCgroup struct {
	stats *cgroups.MemoryStats
	err   error
}

func (f *fakeCgroup) Self() (string, error) { return "/sys/fs/cgroup/job_1", f.err }

func (f *fakeCgroup) ReadMemory(string) (*cgroups.MemoryStats, error) {
	return f.stats, f.err
}

func fakeSnapshotter(buf *bytes.Buffer) *Snapshotter {
	return withFakeProbes(NewSnapshotter(logging.New(buf, logging.INFO, false)))
}

func withFakeProbes(s *Snapshotter) *Snapshotter {
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 64 * gib, Used: 8 * gib, Free: 40 * gib, Available: 54 * gib}, nil
	}
	s.swapMemory = func(context.Context) (*mem.SwapMemoryStat, error) {
		return &mem.SwapMemoryStat{Total: 4 * gib, Used: 1 * gib}, nil
	}
	s.loadAvg = func(context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 1.5, Load5: 1, Load15: 0.5}, nil
	}
	s.cgroup = &fakeCgroup{stats: &cgroups.MemoryStats{Current: 2 * gib, Peak: 3 * gib, Limit: 16 * gib}}
	s.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestHeading(t *testing.T) {
	assert.Equal(t, "Memori sebelum eksekusi", Heading(LabelPre))
	assert.Equal(t, "Memori setelah eksekusi", Heading(LabelPost))
	assert.Equal(t, "Memori (now)", Heading("now"))
}

func TestTake(t *testing.T) {
	s := fakeSnapshotter(&bytes.Buffer{})

	snap, err := s.Take(context.Background(), LabelPre)
	require.NoError(t, err)
	assert.Equal(t, LabelPre, snap.Label)
	assert.Equal(t, uint64(64*gib), snap.MemTotal)
	assert.Equal(t, uint64(54*gib), snap.MemAvailable)
	assert.Equal(t, uint64(4*gib), snap.SwapTotal)
	assert.Equal(t, 1.5, snap.Load1)
	require.NotNil(t, snap.Cgroup)
	assert.Equal(t, uint64(3*gib), snap.Cgroup.Peak)
}

func TestTakeReadsOwnProcess(t *testing.T) {
	s := fakeSnapshotter(&bytes.Buffer{})
	s.pid = os.Getpid()

	snap, err := s.Take(context.Background(), "now")
	require.NoError(t, err)
	assert.NotZero(t, snap.SelfRSS)
}

func TestSnapshotLogsHeadingAndTable(t *testing.T) {
	var buf bytes.Buffer
	s := fakeSnapshotter(&buf)

	snap := s.Snapshot(context.Background(), LabelPost)
	require.NotNil(t, snap)

	out := buf.String()
	assert.Contains(t, out, "[INFO] Memori setelah eksekusi")
	assert.Contains(t, out, "total=64 GiB")
	assert.Contains(t, out, "available=54 GiB")
	assert.Contains(t, out, "cgroup_peak=3.0 GiB")
	assert.Contains(t, out, "Mem:")
	assert.Contains(t, out, "Swap:")
	assert.Contains(t, out, "Cgroup:")
}

func TestSnapshotJSONLogsOneEntry(t *testing.T) {
	var buf bytes.Buffer
	s := withFakeProbes(NewSnapshotter(logging.New(&buf, logging.INFO, true)))

	require.NotNil(t, s.Snapshot(context.Background(), LabelPre))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Memori sebelum eksekusi", entry["message"])
	assert.Equal(t, "64 GiB", entry["total"])
	assert.Equal(t, "4.0 GiB", entry["swap_total"])
	assert.Equal(t, "16 GiB", entry["cgroup_limit"])
}

func TestSnapshotMemoryFailureWarns(t *testing.T) {
	var buf bytes.Buffer
	s := fakeSnapshotter(&buf)
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("no /proc/meminfo")
	}

	assert.Nil(t, s.Snapshot(context.Background(), LabelPre))
	assert.Contains(t, buf.String(), "[WARNING] Snapshot sumber daya gagal")
	assert.Contains(t, buf.String(), "no /proc/meminfo")
}

func TestSnapshotOptionalSourcesMissing(t *testing.T) {
	var buf bytes.Buffer
	s := fakeSnapshotter(&buf)
	s.swapMemory = func(context.Context) (*mem.SwapMemoryStat, error) { return nil, errors.New("no swap") }
	s.loadAvg = func(context.Context) (*load.AvgStat, error) { return nil, errors.New("no loadavg") }
	s.cgroup = &fakeCgroup{err: errors.New("no cgroup")}

	snap := s.Snapshot(context.Background(), LabelPre)
	require.NotNil(t, snap)
	assert.Nil(t, snap.Cgroup)
	assert.Zero(t, snap.SwapTotal)
	assert.NotContains(t, buf.String(), "Cgroup:")
}

func TestRenderUnlimitedCgroup(t *testing.T) {
	var buf bytes.Buffer
	snap := &ResourceSnapshot{
		MemTotal: 8 * gib,
		Cgroup:   &cgroups.MemoryStats{Current: gib},
	}
	require.NoError(t, Render(&buf, snap))
	assert.Contains(t, buf.String(), "unlimited")
}

func TestTiming(t *testing.T) {
	timing := NewTiming()
	assert.True(t, timing.CompletedAt.IsZero())

	timing.Complete()
	first := timing.CompletedAt
	timing.Complete()
	assert.Equal(t, first, timing.CompletedAt)
	assert.GreaterOrEqual(t, timing.Duration(), time.Duration(0))
}
