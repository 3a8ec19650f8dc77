package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// StatusCount is the number of iterations that ended with Outcome/Status.
type StatusCount struct {
	Outcome Outcome `json:"outcome" yaml:"outcome"`
	Status  int     `json:"status" yaml:"status"`
	Count   int     `json:"count" yaml:"count"`
}

// Summary aggregates the results of one run.
type Summary struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	Entry      string          `json:"entry" yaml:"entry"`
	StartTime  time.Time       `json:"start_time" yaml:"start_time"`
	Duration   time.Duration   `json:"duration_ns" yaml:"duration_ns"`
	Iterations int             `json:"iterations" yaml:"iterations"`
	ByOutcome  map[Outcome]int `json:"by_outcome" yaml:"by_outcome"`
	Statuses   []StatusCount   `json:"statuses" yaml:"statuses"`
	Crashes    []string        `json:"crashes,omitempty" yaml:"crashes,omitempty"`
	counts     map[statusKey]int
}

type statusKey struct {
	outcome Outcome
	status  int
}

// NewSummary creates an empty summary.
func NewSummary(runID, entry string, start time.Time) *Summary {
	return &Summary{
		RunID:     runID,
		Entry:     entry,
		StartTime: start,
		ByOutcome: map[Outcome]int{},
		counts:    map[statusKey]int{},
	}
}

// Add folds one result into the summary.
func (s *Summary) Add(r *Result) {
	s.Iterations++
	s.ByOutcome[r.Outcome]++
	if r.Outcome == OutcomeCrash {
		s.Crashes = append(s.Crashes, r.InputID)
		return
	}
	s.counts[statusKey{r.Outcome, r.Status}]++
}

// Finish stamps the duration and sorts the status table.
func (s *Summary) Finish(end time.Time) {
	s.Duration = end.Sub(s.StartTime)
	s.Statuses = s.Statuses[:0]
	for k, n := range s.counts {
		s.Statuses = append(s.Statuses, StatusCount{Outcome: k.outcome, Status: k.status, Count: n})
	}
	order := map[Outcome]int{}
	for i, o := range Outcomes {
		order[o] = i
	}
	sort.Slice(s.Statuses, func(i, j int) bool {
		a, b := s.Statuses[i], s.Statuses[j]
		if a.Outcome != b.Outcome {
			return order[a.Outcome] < order[b.Outcome]
		}
		return a.Status < b.Status
	})
}

// ExecsPerSecond is the average iteration rate.
func (s *Summary) ExecsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Iterations) / s.Duration.Seconds()
}

// WriteTable renders the summary for humans.
func (s *Summary) WriteTable(w io.Writer) error {
	fmt.Fprintf(w, "Run %s (entry %s): %d iterations in %s (%.1f execs/s)\n",
		s.RunID, s.Entry, s.Iterations, s.Duration.Round(time.Millisecond), s.ExecsPerSecond())

	table := tablewriter.NewWriter(w)
	table.Header("Outcome", "Status", "Count")
	for _, sc := range s.Statuses {
		if err := table.Append(string(sc.Outcome), strconv.Itoa(sc.Status), strconv.Itoa(sc.Count)); err != nil {
			return err
		}
	}
	if n := s.ByOutcome[OutcomeCrash]; n > 0 {
		if err := table.Append(string(OutcomeCrash), "-", strconv.Itoa(n)); err != nil {
			return err
		}
	}
	return table.Render()
}

// WriteJSON renders the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteYAML renders the summary as YAML.
func (s *Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
