package report

import "sync"

// InterceptionSample is a recent interception or crash kept for debugging:
// which input made the unit try to exit, and with what status.
type InterceptionSample struct {
	RunID       string  `json:"run_id"`
	Iteration   uint64  `json:"iteration"`
	InputID     string  `json:"input_id"`
	InputSHA256 string  `json:"input_sha256"`
	Outcome     Outcome `json:"outcome"`
	Status      int     `json:"status"`
	Panic       string  `json:"panic,omitempty"`
	Duration    float64 `json:"duration_seconds"`
}

// InterceptionLog maintains a ring buffer of the last N samples.
type InterceptionLog struct {
	samples []InterceptionSample
	maxSize int
	mu      sync.RWMutex
}

// NewInterceptionLog creates a log with fixed size
func NewInterceptionLog(maxSize int) *InterceptionLog {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &InterceptionLog{
		samples: make([]InterceptionSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a sample. Plain returns are not recorded.
func (l *InterceptionLog) Record(r *Result) {
	if r.Outcome == OutcomeReturned {
		return
	}

	sample := InterceptionSample{
		RunID:       r.RunID,
		Iteration:   r.Iteration,
		InputID:     r.InputID,
		InputSHA256: r.InputSHA256,
		Outcome:     r.Outcome,
		Status:      r.Status,
		Panic:       r.Panic,
		Duration:    r.Duration.Seconds(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Ring buffer: if full, drop oldest
	if len(l.samples) >= l.maxSize {
		l.samples = l.samples[1:]
	}
	l.samples = append(l.samples, sample)
}

// GetRecent returns up to n samples, newest first. n <= 0 means all.
func (l *InterceptionLog) GetRecent(n int) []InterceptionSample {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.samples) {
		n = len(l.samples)
	}

	result := make([]InterceptionSample, n)
	for i := 0; i < n; i++ {
		result[i] = l.samples[len(l.samples)-1-i]
	}
	return result
}

// Count returns the number of samples held
func (l *InterceptionLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}
