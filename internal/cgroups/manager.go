package cgroups

// Read-only. The scheduler owns the job cgroup; we only look at it.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const cgroupRoot = "/sys/fs/cgroup"

// v1 reports "no limit" as a page-aligned huge number
const v1Unlimited = uint64(1) << 62

// MemoryStats is the memory accounting of one cgroup, in bytes.
// Limit 0 means unlimited, Peak 0 means the kernel does not report it.
type MemoryStats struct {
	Path    string `json:"path"`
	Current uint64 `json:"current"`
	Peak    uint64 `json:"peak"`
	Limit   uint64 `json:"limit"`
}

// Manager locates and reads cgroups under a mount point
type Manager struct {
	root    string
	version int
}

// New creates a manager for the host cgroup mount
func New() *Manager {
	return NewAt(cgroupRoot)
}

// NewAt creates a manager rooted at root
func NewAt(root string) *Manager {
	return &Manager{
		root:    root,
		version: versionAt(root),
	}
}

// Version returns detected cgroup version (1 or 2)
func Version() int {
	return versionAt(cgroupRoot)
}

func versionAt(root string) int {
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// Self returns the memory cgroup directory of the current process, which
// under a batch scheduler is the job (or step) cgroup.
func (m *Manager) Self() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()
	return m.parse(f)
}

func (m *Manager) parse(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}

		if m.version == 2 {
			if parts[0] == "0" && parts[1] == "" {
				return filepath.Join(m.root, parts[2]), nil
			}
			continue
		}

		for _, controller := range strings.Split(parts[1], ",") {
			if controller == "memory" {
				return filepath.Join(m.root, "memory", parts[2]), nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no memory cgroup found")
}

// ReadMemory reads memory accounting for the cgroup at path
func (m *Manager) ReadMemory(path string) (*MemoryStats, error) {
	if path == "" {
		return nil, errors.New("empty cgroup path")
	}

	stats := &MemoryStats{Path: path}
	var err error

	if m.version == 2 {
		if stats.Current, err = readUint(filepath.Join(path, "memory.current")); err != nil {
			return nil, err
		}
		// memory.peak needs kernel 5.19+
		stats.Peak, _ = readUint(filepath.Join(path, "memory.peak"))
		stats.Limit, _ = readUint(filepath.Join(path, "memory.max"))
		return stats, nil
	}

	if stats.Current, err = readUint(filepath.Join(path, "memory.usage_in_bytes")); err != nil {
		return nil, err
	}
	stats.Peak, _ = readUint(filepath.Join(path, "memory.max_usage_in_bytes"))
	stats.Limit, _ = readUint(filepath.Join(path, "memory.limit_in_bytes"))
	if stats.Limit >= v1Unlimited {
		stats.Limit = 0
	}
	return stats, nil
}

// readUint parses a single-value cgroup file. "max" reads as 0.
func readUint(file string) (uint64, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	if value == "max" {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return n, nil
}
