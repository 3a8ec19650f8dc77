package cgroups

// If confinement is unavailable, the campaign MUST still run.
// If we are unsure, DO LESS.
// Only the harness process is ever moved, and it is moved back.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Limits defines what can be written to cgroups.
// Nothing else. No policy. No magic.
type Limits struct {
	CPUMax    string // "quota period" or "max"
	CPUWeight int    // 1-10000, 0 = unchanged
	MemoryMax int64  // bytes, 0 = no limit
}

// IsZero reports whether no limit is set.
func (l Limits) IsZero() bool {
	return l.CPUMax == "" && l.CPUWeight == 0 && l.MemoryMax == 0
}

// CPUMaxPercent renders a cpu.max value allowing percent of one CPU.
func CPUMaxPercent(percent int) string {
	if percent <= 0 {
		return ""
	}
	const period = 100000
	return fmt.Sprintf("%d %d", percent*period/100, period)
}

// Version returns detected cgroup version (1 or 2)
func Version() int {
	if _, err := os.Stat(filepath.Join(cgroupRoot, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// apply writes every set limit. The first failure is returned, the
// remaining limits are still attempted.
func (m *Manager) apply(cgroupPath string, limits Limits) error {
	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if limits.CPUMax != "" {
		note(m.writeCPUMax(cgroupPath, limits.CPUMax))
	}
	if limits.CPUWeight != 0 {
		note(m.writeCPUWeight(cgroupPath, limits.CPUWeight))
	}
	if limits.MemoryMax != 0 {
		note(m.writeMemoryMax(cgroupPath, limits.MemoryMax))
	}
	return first
}

// writeCPUMax writes cpu.max (v2). v1 quotas are not supported.
func (m *Manager) writeCPUMax(cgroupPath string, value string) error {
	if m.version != 2 {
		return nil
	}
	return os.WriteFile(filepath.Join(cgroupPath, "cpu.max"), []byte(value), 0644)
}

// writeCPUWeight writes cpu.weight (v2) or cpu.shares (v1)
func (m *Manager) writeCPUWeight(cgroupPath string, weight int) error {
	if weight <= 0 || weight > 10000 {
		return fmt.Errorf("invalid cpu weight: %d (must be 1-10000)", weight)
	}

	if m.version == 2 {
		return os.WriteFile(filepath.Join(cgroupPath, "cpu.weight"), []byte(strconv.Itoa(weight)), 0644)
	}

	// v1: convert weight to shares (weight 100 = 1024 shares)
	shares := (weight * 1024) / 100
	return os.WriteFile(filepath.Join(cgroupPath, "cpu.shares"), []byte(strconv.Itoa(shares)), 0644)
}

// writeMemoryMax writes memory.max (v2) or memory.limit_in_bytes (v1)
func (m *Manager) writeMemoryMax(cgroupPath string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("invalid memory limit: %d", bytes)
	}

	value := []byte(strconv.FormatInt(bytes, 10))
	if m.version == 2 {
		return os.WriteFile(filepath.Join(cgroupPath, "memory.max"), value, 0644)
	}
	return os.WriteFile(filepath.Join(m.v1Path(cgroupPath, "memory"), "memory.limit_in_bytes"), value, 0644)
}
