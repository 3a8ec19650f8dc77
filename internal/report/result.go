package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/psantana5/exitshim/pkg/logging"
	"github.com/psantana5/exitshim/pkg/redirect"
)

// Outcome is how one fuzz iteration ended.
type Outcome string

const (
	OutcomeReturned      Outcome = "returned"
	OutcomeExit          Outcome = "exit"
	OutcomeImmediateExit Outcome = "immediate_exit"
	OutcomeCrash         Outcome = "crash"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{OutcomeReturned, OutcomeExit, OutcomeImmediateExit, OutcomeCrash}

// OutcomeOf maps what the redirector observed onto an Outcome.
func OutcomeOf(o redirect.Outcome) Outcome {
	switch {
	case o.Returned:
		return OutcomeReturned
	case o.Kind == redirect.KindImmediate:
		return OutcomeImmediateExit
	default:
		return OutcomeExit
	}
}

// Result is the immutable record of one fuzz iteration. Set once, never change.
type Result struct {
	// Identity
	RunID       string   `json:"run_id" yaml:"run_id"`
	Entry       string   `json:"entry" yaml:"entry"`
	Iteration   uint64   `json:"iteration" yaml:"iteration"`
	InputID     string   `json:"input_id" yaml:"input_id"`
	InputSHA256 string   `json:"input_sha256" yaml:"input_sha256"`
	Argv        []string `json:"argv" yaml:"argv"`

	// Timing
	StartTime time.Time     `json:"start_time" yaml:"start_time"`
	EndTime   time.Time     `json:"end_time" yaml:"end_time"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`

	// Outcome. Status is the return value for OutcomeReturned and the
	// requested exit status for the two exit outcomes.
	Outcome Outcome `json:"outcome" yaml:"outcome"`
	Status  int     `json:"status" yaml:"status"`
	Panic   string  `json:"panic,omitempty" yaml:"panic,omitempty"`

	// Harness memory after the iteration, 0 when unavailable.
	RSSBytes uint64 `json:"rss_bytes,omitempty" yaml:"rss_bytes,omitempty"`

	Intent string `json:"intent,omitempty" yaml:"intent,omitempty"`
}

// NewResult creates a result for an iteration over input.
func NewResult(runID, entry string, iteration uint64, inputID string, input []byte) *Result {
	sum := sha256.Sum256(input)
	return &Result{
		RunID:       runID,
		Entry:       entry,
		Iteration:   iteration,
		InputID:     inputID,
		InputSHA256: hex.EncodeToString(sum[:]),
	}
}

// SetTiming records start and end of the iteration.
func (r *Result) SetTiming(start, end time.Time) {
	r.StartTime = start
	r.EndTime = end
	r.Duration = end.Sub(start)
}

// SetOutcome records what the redirector observed.
func (r *Result) SetOutcome(o redirect.Outcome) {
	r.Outcome = OutcomeOf(o)
	r.Status = o.Status
}

// SetCrash records a panic that was not a termination request.
func (r *Result) SetCrash(v interface{}) {
	r.Outcome = OutcomeCrash
	r.Status = 0
	r.Panic = fmt.Sprint(v)
}

// Intercepted reports whether the iteration tried to end the process.
func (r *Result) Intercepted() bool {
	return r.Outcome == OutcomeExit || r.Outcome == OutcomeImmediateExit
}

// Fields renders the result for structured logging.
func (r *Result) Fields() logging.Fields {
	f := logging.Fields{
		"run":       r.RunID,
		"iteration": r.Iteration,
		"input":     r.InputID,
		"outcome":   string(r.Outcome),
		"status":    r.Status,
		"duration":  r.Duration.String(),
	}
	if r.Panic != "" {
		f["panic"] = r.Panic
	}
	return f
}

// LogSummary emits a one-line summary. Interceptions and crashes go out at
// INFO and WARN, plain returns at DEBUG since they are the common case.
func (r *Result) LogSummary(logger *logging.Logger) {
	switch r.Outcome {
	case OutcomeCrash:
		logger.Warn("iteration crashed", r.Fields())
	case OutcomeExit, OutcomeImmediateExit:
		logger.Info("termination intercepted", r.Fields())
	default:
		logger.Debug("iteration returned", r.Fields())
	}
}
