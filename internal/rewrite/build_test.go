package rewrite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flagToolSource = `package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
)

func main() {
	code := flag.Int("code", 0, "exit status")
	now := flag.Bool("now", false, "exit without cleanup")
	flag.Parse()
	if *code == 0 {
		fmt.Println("nothing to do")
		return
	}
	if *now {
		syscall.Exit(*code)
	}
	os.Exit(*code)
}
`

const driverSource = `package main

import (
	"fmt"

	"github.com/psantana5/exitshim/pkg/redirect"

	_ "fixture/unit"
)

func main() {
	e, ok := redirect.Lookup("fixture")
	if !ok {
		fmt.Println("fixture not registered")
		return
	}
	for _, args := range [][]string{{"-code=3"}, {"-code=3"}, {"-code=4", "-now"}, {}, {"-bogus"}} {
		fmt.Println(e.Invoke(append([]string{"fixture"}, args...)))
	}
}
`

// TestRewrittenUnitRunsUnderHarness builds a rewritten main package into a
// scratch module and drives it through the entry registry.
func TestRewrittenUnitRunsUnderHarness(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a module")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go command not available")
	}
	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)

	work := t.TempDir()
	src := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.MkdirAll(src, 0755))
	writeFiles(t, src, map[string]string{"main.go": flagToolSource})

	report, err := Dir(context.Background(), src, filepath.Join(work, "unit"), Config{Package: "unit", RegisterAs: "fixture"})
	require.NoError(t, err)
	require.Equal(t, Stats{EntryRenamed: true, NormalExits: 1, ImmediateExits: 1}, report.Total)

	writeFiles(t, work, map[string]string{
		"go.mod":  fmt.Sprintf("module fixture\n\ngo 1.21\n\nrequire github.com/psantana5/exitshim v0.0.0\n\nreplace github.com/psantana5/exitshim => %s\n", root),
		"main.go": driverSource,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, goBin, "run", ".")
	cmd.Dir = work
	cmd.Env = append(os.Environ(), "GOFLAGS=-mod=mod", "GOWORK=off")
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	require.NoError(t, cmd.Run(), stderr.String())

	assert.Equal(t, "exit status 3\n"+
		"exit status 3\n"+
		"immediate_exit status 4\n"+
		"nothing to do\n"+
		"returned 0\n"+
		"exit status 2\n", stdout.String())
	assert.Contains(t, stderr.String(), "flag provided but not defined: -bogus")
}
