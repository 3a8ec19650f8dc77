package demo

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/exitshim/pkg/redirect"
)

func run(t *testing.T, args ...string) (redirect.Outcome, string) {
	t.Helper()
	var buf bytes.Buffer
	Output = &buf
	t.Cleanup(func() { Output = os.Stdout })

	e, ok := redirect.Lookup("demo")
	require.True(t, ok, "demo entry not registered")
	return e.Invoke(append([]string{"demo"}, args...)), buf.String()
}

func input(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDemo(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		want    redirect.Outcome
		printed string
	}{
		{
			name:    "version exits zero after flushing",
			args:    func(t *testing.T) []string { return []string{"--version"} },
			want:    redirect.Outcome{Kind: redirect.KindNormal, Status: 0},
			printed: Version + "\n",
		},
		{
			name: "missing file is a usage error",
			args: func(t *testing.T) []string { return nil },
			want: redirect.Outcome{Kind: redirect.KindNormal, Status: 2},
		},
		{
			name: "unknown flag is a usage error",
			args: func(t *testing.T) []string { return []string{"-x", input(t, "a=1")} },
			want: redirect.Outcome{Kind: redirect.KindNormal, Status: 2},
		},
		{
			name: "records become the exit status",
			args: func(t *testing.T) []string { return []string{input(t, "a=1\n# note\nb=2\nw=3\n")} },
			want: redirect.Outcome{Kind: redirect.KindNormal, Status: 3},
		},
		{
			name:    "verbose output is flushed",
			args:    func(t *testing.T) []string { return []string{"-v", input(t, "w=4\n")} },
			want:    redirect.Outcome{Kind: redirect.KindNormal, Status: 1},
			printed: "1 records, score 8\n",
		},
		{
			name: "empty input returns",
			args: func(t *testing.T) []string { return []string{input(t, "\n\n")} },
			want: redirect.Outcome{Returned: true, Status: 0},
		},
		{
			name: "malformed record exits immediately",
			args: func(t *testing.T) []string { return []string{input(t, "a=1\nbroken\n")} },
			want: redirect.Outcome{Kind: redirect.KindImmediate, Status: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, printed := run(t, tt.args(t)...)
			assert.Equal(t, tt.want, got)
			if tt.printed != "" {
				assert.Equal(t, tt.printed, printed)
			}
		})
	}
}

func TestImmediateExitLosesBufferedOutput(t *testing.T) {
	got, printed := run(t, "-v", input(t, "w=x\n"))
	assert.Equal(t, redirect.Outcome{Kind: redirect.KindImmediate, Status: 1}, got)
	assert.Empty(t, printed)
}

func TestOutOfRangeWeightPanics(t *testing.T) {
	assert.Panics(t, func() { run(t, input(t, "w=99\n")) })
}

func TestManyRecordsCapStatus(t *testing.T) {
	var b bytes.Buffer
	for i := 0; i < 300; i++ {
		b.WriteString("k=v\n")
	}
	got, _ := run(t, input(t, b.String()))
	assert.Equal(t, redirect.Outcome{Kind: redirect.KindNormal, Status: 125}, got)
}
