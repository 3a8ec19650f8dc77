package observe

import "time"

// Timing records start/end timestamps of one iteration.
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
	now         func() time.Time
}

// NewTiming starts timing now.
func NewTiming() *Timing {
	return newTiming(time.Now)
}

func newTiming(now func() time.Time) *Timing {
	return &Timing{StartedAt: now(), now: now}
}

// Complete records completion time. Only the first call counts.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = t.now()
	}
}

// Duration returns execution duration, or time elapsed so far when the
// iteration has not completed.
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return t.now().Sub(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
