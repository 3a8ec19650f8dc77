package observe

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// MemorySampler reads the resident set size of the harness process. A
// monitored unit that leaks across iterations shows up as steady RSS growth.
type MemorySampler struct {
	proc *process.Process
}

// NewMemorySampler samples the current process.
func NewMemorySampler() (*MemorySampler, error) {
	return NewMemorySamplerFor(int32(os.Getpid()))
}

// NewMemorySamplerFor samples the process with the given PID.
func NewMemorySamplerFor(pid int32) (*MemorySampler, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	return &MemorySampler{proc: p}, nil
}

// RSS returns resident memory in bytes.
func (m *MemorySampler) RSS() (uint64, error) {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
