package observe

import "time"

// Timing brackets one workload run: set when the launch begins, closed
// once the child has been reaped or failed to start.
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTiming starts the clock
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// Complete stops the clock. Later calls keep the first end time, so a
// start failure and the deferred cleanup cannot both move it.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
}

// Duration is the wall time of the run, or the time so far while it is
// still going.
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
