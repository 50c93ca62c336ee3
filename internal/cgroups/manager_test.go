package cgroups

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func TestParseV2(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"cgroup.controllers": "cpu memory"})
	m := NewAt(root)
	require.Equal(t, 2, m.version)

	path, err := m.parse(strings.NewReader("0::/system.slice/slurmstepd.scope/job_42/step_batch\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "system.slice/slurmstepd.scope/job_42/step_batch"), path)
}

func TestParseV1(t *testing.T) {
	root := t.TempDir()
	m := NewAt(root)
	require.Equal(t, 1, m.version)

	procCgroup := "12:cpu,cpuacct:/slurm/uid_1000/job_42\n7:memory:/slurm/uid_1000/job_42/step_batch\n"
	path, err := m.parse(strings.NewReader(procCgroup))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "memory", "slurm/uid_1000/job_42/step_batch"), path)

	_, err = m.parse(strings.NewReader("3:cpu:/x\n"))
	assert.Error(t, err)
}

func TestReadMemoryV2(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"cgroup.controllers": "memory"})
	job := filepath.Join(root, "job_42")
	writeFiles(t, job, map[string]string{
		"memory.current": "1048576\n",
		"memory.peak":    "4194304\n",
		"memory.max":     "max\n",
	})

	stats, err := NewAt(root).ReadMemory(job)
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576), stats.Current)
	assert.Equal(t, uint64(4194304), stats.Peak)
	assert.Zero(t, stats.Limit)
}

func TestReadMemoryV1(t *testing.T) {
	root := t.TempDir()
	job := filepath.Join(root, "memory", "job_42")
	writeFiles(t, job, map[string]string{
		"memory.usage_in_bytes":     "2048",
		"memory.max_usage_in_bytes": "8192",
		"memory.limit_in_bytes":     "9223372036854771712",
	})

	stats, err := NewAt(root).ReadMemory(job)
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), stats.Current)
	assert.Equal(t, uint64(8192), stats.Peak)
	assert.Zero(t, stats.Limit, "huge v1 limit means unlimited")
}

func TestReadMemoryMissing(t *testing.T) {
	m := NewAt(t.TempDir())
	_, err := m.ReadMemory(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
	_, err = m.ReadMemory("")
	assert.Error(t, err)
}
