package cgroups

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const cgroupRoot = "/sys/fs/cgroup"

// Manager moves a process into a cgroup of its own and back out again.
type Manager struct {
	version  int
	root     string
	procRoot string
	remove   func(string) error
}

// New creates a cgroup manager for the host
func New() *Manager {
	return &Manager{
		version:  Version(),
		root:     cgroupRoot,
		procRoot: "/proc",
		remove:   os.Remove,
	}
}

// Confinement is a process placed in a campaign cgroup.
type Confinement struct {
	Path   string
	Origin string
	pid    int
	m      *Manager
}

// Confine creates exitshim/<name>, moves pid into it and applies limits.
// A nil Confinement with a nil error means cgroups are not writable here.
func (m *Manager) Confine(name string, pid int, limits Limits) (*Confinement, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid: %d", pid)
	}
	origin, err := m.current(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read cgroup of %d: %w", pid, err)
	}

	path, err := m.create(name)
	if err != nil || path == "" {
		return nil, err
	}
	c := &Confinement{Path: path, Origin: origin, pid: pid, m: m}

	if err := m.join(path, pid); err != nil {
		m.delete(path)
		return nil, fmt.Errorf("failed to join %s: %w", path, err)
	}
	if err := m.apply(path, limits); err != nil {
		c.Release()
		return nil, fmt.Errorf("failed to apply limits: %w", err)
	}
	return c, nil
}

// Release moves the process back to its original cgroup and removes the
// campaign cgroup.
func (c *Confinement) Release() error {
	if err := c.m.join(c.Origin, c.pid); err != nil {
		return fmt.Errorf("failed to return %d to %s: %w", c.pid, c.Origin, err)
	}
	return c.m.delete(c.Path)
}

// current returns the cgroup directory pid lives in. v1 reports the cpu
// hierarchy.
func (m *Manager) current(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		// hierarchy-ID:controller-list:path
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if m.version == 2 && parts[0] == "0" && parts[1] == "" {
			return filepath.Join(m.root, parts[2]), nil
		}
		if m.version == 1 {
			for _, ctrl := range strings.Split(parts[1], ",") {
				if ctrl == "cpu" {
					return filepath.Join(m.root, "cpu", parts[2]), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no cgroup v%d entry", m.version)
}

func (m *Manager) create(name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("unnamed-%d", os.Getpid())
	}
	cgroupName := filepath.Join("exitshim", name)

	path := filepath.Join(m.root, cgroupName)
	if m.version == 1 {
		path = filepath.Join(m.root, "cpu", cgroupName)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			return "", nil // not an error, just can't create
		}
		return "", err
	}
	if m.version == 1 {
		os.MkdirAll(m.v1Path(path, "memory"), 0755) // best effort
	}
	return path, nil
}

func (m *Manager) join(cgroupPath string, pid int) error {
	procs := []byte(strconv.Itoa(pid))
	if err := os.WriteFile(filepath.Join(cgroupPath, "cgroup.procs"), procs, 0644); err != nil {
		return err
	}
	if m.version == 1 {
		// memory hierarchy follows the cpu one (best effort)
		os.WriteFile(filepath.Join(m.v1Path(cgroupPath, "memory"), "cgroup.procs"), procs, 0644)
	}
	return nil
}

func (m *Manager) delete(cgroupPath string) error {
	if m.version == 1 {
		m.remove(m.v1Path(cgroupPath, "memory")) // best effort
	}
	return m.remove(cgroupPath)
}

// v1Path maps a path in the cpu hierarchy onto controller's hierarchy.
func (m *Manager) v1Path(cpuPath, controller string) string {
	cpuRoot := filepath.Join(m.root, "cpu")
	rel, err := filepath.Rel(cpuRoot, cpuPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return cpuPath
	}
	return filepath.Join(m.root, controller, rel)
}
