package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func fixedLogger(level Level, jsonFormat bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(level, jsonFormat)
	l.SetOutput(&buf)
	l.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	return l, &buf
}

func TestTextFormat(t *testing.T) {
	l, buf := fixedLogger(INFO, false)

	l.With(Fields{"run": "r1"}).Info("iteration done", Fields{"status": 2, "outcome": "exit"})

	want := "[2026-10-16 09:30:00] INFO: iteration done outcome=exit run=r1 status=2\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestJSONFormat(t *testing.T) {
	l, buf := fixedLogger(DEBUG, true)

	l.WithField("component", "harness").Warn("slow iteration")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry.Level != "WARN" || entry.Message != "slow iteration" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["component"] != "harness" {
		t.Errorf("component field missing: %+v", entry.Fields)
	}
	if entry.Timestamp != "2026-10-16T09:30:00Z" {
		t.Errorf("timestamp = %s", entry.Timestamp)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := fixedLogger(WARN, false)

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("entries below WARN were written: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "ERROR: shown") {
		t.Errorf("error entry missing: %q", buf.String())
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	l, buf := fixedLogger(INFO, false)
	_ = l.WithField("child", true)

	l.Info("parent")
	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
