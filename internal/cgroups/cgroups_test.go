package cgroups

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost lays out a cgroup tree and /proc/<pid>/cgroup under a temp dir.
func fakeHost(t *testing.T, version int, procCgroup string) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := &Manager{
		version:  version,
		root:     filepath.Join(dir, "cgroup"),
		procRoot: filepath.Join(dir, "proc"),
		remove:   os.RemoveAll,
	}
	require.NoError(t, os.MkdirAll(filepath.Join(m.procRoot, "42"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(m.procRoot, "42", "cgroup"), []byte(procCgroup), 0644))
	return m
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestConfineV2(t *testing.T) {
	m := fakeHost(t, 2, "0::/user.slice/session-1.scope\n")
	origin := filepath.Join(m.root, "user.slice", "session-1.scope")
	require.NoError(t, os.MkdirAll(origin, 0755))

	c, err := m.Confine("demo-1", 42, Limits{
		CPUMax:    CPUMaxPercent(50),
		CPUWeight: 200,
		MemoryMax: 256 << 20,
	})
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, filepath.Join(m.root, "exitshim", "demo-1"), c.Path)
	assert.Equal(t, origin, c.Origin)
	assert.Equal(t, "42", read(t, filepath.Join(c.Path, "cgroup.procs")))
	assert.Equal(t, "50000 100000", read(t, filepath.Join(c.Path, "cpu.max")))
	assert.Equal(t, "200", read(t, filepath.Join(c.Path, "cpu.weight")))
	assert.Equal(t, "268435456", read(t, filepath.Join(c.Path, "memory.max")))

	require.NoError(t, c.Release())
	assert.Equal(t, "42", read(t, filepath.Join(origin, "cgroup.procs")))
	assert.NoDirExists(t, c.Path)
}

func TestConfineV1(t *testing.T) {
	m := fakeHost(t, 1, "4:memory:/user\n3:cpu,cpuacct:/user\n")
	require.NoError(t, os.MkdirAll(filepath.Join(m.root, "cpu", "user"), 0755))

	c, err := m.Confine("demo-1", 42, Limits{CPUWeight: 100, MemoryMax: 1024})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.root, "cpu", "user"), c.Origin)
	assert.Equal(t, "1024", read(t, filepath.Join(m.root, "memory", "exitshim", "demo-1", "memory.limit_in_bytes")))
	assert.Equal(t, "1024", read(t, filepath.Join(c.Path, "cpu.shares")))
	assert.Equal(t, "42", read(t, filepath.Join(m.root, "memory", "exitshim", "demo-1", "cgroup.procs")))
}

func TestConfineInvalidWeightReleases(t *testing.T) {
	m := fakeHost(t, 2, "0::/\n")
	require.NoError(t, os.MkdirAll(m.root, 0755))

	_, err := m.Confine("bad", 42, Limits{CPUWeight: 20000})
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(m.root, "exitshim", "bad"))
	assert.Equal(t, "42", read(t, filepath.Join(m.root, "cgroup.procs")))
}

func TestConfineRejectsBadPID(t *testing.T) {
	_, err := New().Confine("x", 0, Limits{})
	assert.Error(t, err)
}

func TestLimits(t *testing.T) {
	assert.True(t, Limits{}.IsZero())
	assert.False(t, Limits{MemoryMax: 1}.IsZero())
	assert.Equal(t, "", CPUMaxPercent(0))
	assert.Equal(t, "200000 100000", CPUMaxPercent(200))
}
