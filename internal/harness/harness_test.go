package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/pkg/redirect"
	"github.com/psantana5/exitshim/pkg/store"
)

// lastPath is the input path the test entry saw last.
var lastPath string

// The test entry interprets its input: "e<n>" exits with n, "i<n>"
// immediately exits with n, "g<n>" exits with n from a goroutine, "p"
// panics, anything else returns its length.
func init() {
	redirect.MustRegister(redirect.Rename("harness-test", func(argc int, argv []string) int {
		lastPath = argv[argc-1]
		data, err := os.ReadFile(lastPath)
		if err != nil {
			redirect.Exit(99)
		}
		if len(data) == 0 {
			return 0
		}
		switch data[0] {
		case 'e':
			redirect.Exit(int(data[1] - '0'))
		case 'i':
			redirect.ImmediateExit(int(data[1] - '0'))
		case 'g':
			done := make(chan struct{})
			go func() {
				defer close(done)
				redirect.Exit(int(data[1] - '0'))
			}()
			<-done
		case 'p':
			panic("boom")
		}
		return len(data)
	}))
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *Harness {
	t.Helper()
	if cfg.Entry == "" {
		cfg.Entry = "harness-test"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	h, err := New(cfg, opts...)
	require.NoError(t, err)
	return h
}

func TestNewUnknownEntry(t *testing.T) {
	_, err := New(Config{Entry: "no-such-entry"})
	assert.ErrorIs(t, err, ErrUnknownEntry)

	_, err = New(Config{Entry: "harness-test", ExecsPerSecond: -1})
	assert.Error(t, err)
}

func TestRunRecordsEveryInput(t *testing.T) {
	s := store.NewMemoryStore()
	h := newHarness(t, Config{Intent: "smoke"}, WithStore(s))

	summary, err := h.Run(context.Background(), FromBytes(
		[]byte("hello"),
		[]byte("e3"),
		[]byte("i7"),
		[]byte("p"),
		[]byte("e3"),
	))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Iterations)
	assert.Equal(t, []report.StatusCount{
		{Outcome: report.OutcomeReturned, Status: 5, Count: 1},
		{Outcome: report.OutcomeExit, Status: 3, Count: 2},
		{Outcome: report.OutcomeImmediateExit, Status: 7, Count: 1},
	}, summary.Statuses)
	assert.Equal(t, []string{"mem-000003"}, summary.Crashes)

	results, err := s.List(h.RunID(), 0)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, uint64(4), results[0].Iteration)
	assert.Equal(t, "smoke", results[0].Intent)
	assert.Equal(t, report.OutcomeCrash, results[1].Outcome)
	assert.Equal(t, "boom", results[1].Panic)

	snap, err := h.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap["exitshim_iterations_started_total"])
	assert.Equal(t, uint64(2), snap["exitshim_interceptions_total{outcome=exit}{status=3}"])

	// Returns are not kept in the ring buffer, crashes are.
	assert.Equal(t, 4, h.Interceptions().Count())
}

func TestRunSurvivesExitFromUnitGoroutine(t *testing.T) {
	h := newHarness(t, Config{})

	summary, err := h.Run(context.Background(), FromBytes([]byte("g6"), []byte("g6"), []byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, []report.StatusCount{
		{Outcome: report.OutcomeReturned, Status: 2, Count: 1},
		{Outcome: report.OutcomeExit, Status: 6, Count: 2},
	}, summary.Statuses)
}

func TestMaxIterationsCyclesInputs(t *testing.T) {
	h := newHarness(t, Config{MaxIterations: 10})

	summary, err := h.Run(context.Background(), FromBytes([]byte("e1"), []byte("ab"), []byte("i2")))
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Iterations)
	assert.Equal(t, 4, summary.ByOutcome[report.OutcomeExit])
	assert.Equal(t, 3, summary.ByOutcome[report.OutcomeReturned])
	assert.Equal(t, 3, summary.ByOutcome[report.OutcomeImmediateExit])
}

func TestRunStopsWhenCancelled(t *testing.T) {
	h := newHarness(t, Config{MaxIterations: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.Run(ctx, FromBytes([]byte("e1")))
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Iterations)
}

func TestRunWithoutInputs(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestRunIsRateLimited(t *testing.T) {
	h := newHarness(t, Config{MaxIterations: 3, ExecsPerSecond: 1000})
	summary, err := h.Run(context.Background(), FromBytes([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Iterations)
}

func TestRunOneMaterializesInput(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, Config{WorkDir: dir, Args: []string{"-f", InputPlaceholder}})

	result, err := h.RunOne(context.Background(), Input{ID: "mem", Data: []byte("i4")})
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeImmediateExit, result.Outcome)
	assert.Equal(t, 4, result.Status)
	assert.Equal(t, []string{"harness-test", "-f", lastPath}, result.Argv)
	assert.Equal(t, dir, filepath.Dir(lastPath))
	_, err = os.Stat(lastPath)
	assert.True(t, os.IsNotExist(err), "temporary input was not removed")
}

func TestRunOneReadsInputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(path, []byte("e9"), 0o644))
	h := newHarness(t, Config{})

	result, err := h.RunOne(context.Background(), Input{ID: "seed", Path: path})
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeExit, result.Outcome)
	assert.Equal(t, 9, result.Status)
	assert.Equal(t, path, lastPath)
	assert.Equal(t, report.NewResult("", "", 0, "", []byte("e9")).InputSHA256, result.InputSHA256)
}

type failingStore struct{ store.Store }

func (failingStore) Save(*report.Result) error { return errors.New("disk full") }

func TestRunAbortsWhenStoreFails(t *testing.T) {
	h := newHarness(t, Config{}, WithStore(failingStore{store.NewMemoryStore()}))
	summary, err := h.Run(context.Background(), FromBytes([]byte("a"), []byte("b")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, summary.Iterations)
}

func TestBuildArgv(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{nil, []string{"unit", "/in"}},
		{[]string{"-v"}, []string{"unit", "-v", "/in"}},
		{[]string{"@@", "-o", "@@"}, []string{"unit", "/in", "-o", "/in"}},
		{[]string{"--file=@@"}, []string{"unit", "--file=@@", "/in"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildArgv("unit", tt.args, "/in"), "args %q", tt.args)
	}
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"b": "2", "a": "1", ".hidden": "x"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	corpus, err := LoadCorpus(dir)
	require.NoError(t, err)
	require.Len(t, corpus, 2)
	assert.Equal(t, "a", corpus[0].ID)
	assert.Equal(t, []byte("1"), corpus[0].Data)
	assert.Equal(t, filepath.Join(dir, "b"), corpus[1].Path)

	_, err = LoadCorpus(t.TempDir())
	assert.ErrorIs(t, err, ErrNoInputs)
}
