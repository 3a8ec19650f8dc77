package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/exitshim/internal/harness"
	"github.com/psantana5/exitshim/internal/rewrite"
	"github.com/psantana5/exitshim/pkg/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	outputFormat = "table"

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEntriesListsBuiltinUnits(t *testing.T) {
	out, err := execute(t, "entries")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(strings.TrimSpace(out), "\n"), "demo")
}

func TestExecUnknownEntry(t *testing.T) {
	_, err := execute(t, "exec", "no-such-entry")
	assert.ErrorIs(t, err, harness.ErrUnknownEntry)
}

func TestRewriteFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	dst := filepath.Join(dir, "out.go")
	require.NoError(t, os.WriteFile(src, []byte(`package main

import (
	"os"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		os.Exit(2)
	}
	syscall.Exit(1)
}
`), 0o644))

	out, err := execute(t, "rewrite", src, dst, "--output", "json")
	require.NoError(t, err)

	var report rewrite.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Main", report.Entry)
	assert.Equal(t, 1, report.Total.NormalExits)
	assert.Equal(t, 1, report.Total.ImmediateExits)

	rewritten, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), "func Main()")
	assert.Contains(t, string(rewritten), "redirect.ImmediateExit(1)")
	assert.NotContains(t, string(rewritten), "syscall")
}

func TestRunAndStats(t *testing.T) {
	corpus := t.TempDir()
	for name, content := range map[string]string{
		"1-records": "a=1\nb=2\n",
		"2-corrupt": "broken\n",
		"3-empty":   "\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(corpus, name), []byte(content), 0o644))
	}
	dsn := filepath.Join(t.TempDir(), "results.db")

	out, err := execute(t, "run", "--entry", "demo", "--corpus", corpus, "--store", dsn, "--output", "json")
	require.NoError(t, err)

	var summary struct {
		RunID      string         `json:"run_id"`
		Iterations int            `json:"iterations"`
		ByOutcome  map[string]int `json:"by_outcome"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Iterations)
	assert.Equal(t, map[string]int{"exit": 1, "immediate_exit": 1, "returned": 1}, summary.ByOutcome)

	out, err = execute(t, "stats", "--store", dsn, "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, out, summary.RunID)

	out, err = execute(t, "stats", summary.RunID, "--store", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "immediate_exit")
	assert.Contains(t, out, "3-empty")
}

func TestRunUnknownEntry(t *testing.T) {
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "a"), []byte("x"), 0o644))

	_, err := execute(t, "run", "--entry", "no-such-entry", "--corpus", corpus, "--store", "memory://")
	assert.ErrorIs(t, err, harness.ErrUnknownEntry)
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show", "--store", "memory://")
	require.NoError(t, err)
	assert.Contains(t, out, "store:")
	assert.Contains(t, out, "dsn: memory://")
	assert.Contains(t, out, "execs_per_second")
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	key := strings.TrimSpace(strings.TrimPrefix(lines[0], "key:"))
	hash := strings.TrimSpace(strings.TrimPrefix(lines[1], "hash:"))

	keys := auth.NewKeySet()
	require.NoError(t, keys.AddHash(hash))
	assert.NoError(t, keys.Validate(key))
}

func TestPrune(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "results.db")
	out, err := execute(t, "prune", "--store", dsn, "--older-than", "1h")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 0 iterations\n", out)

	_, err = execute(t, "prune", "--store", dsn, "--older-than", "0s")
	assert.Error(t, err)
}
