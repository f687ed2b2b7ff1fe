// Package queue implements the durable delivery queue: delayed enqueue,
// single-delivery claims, and retry with a fixed backoff schedule. Queue rows
// carry only a publication id; the database rows they point at remain the
// source of truth.
package queue

import (
	"time"
)

// Backoff is the retry schedule applied to failed delivery jobs.
type Backoff struct {
	Schedule    []time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 1m, 5m, 15m, 30m, then 1h between attempts and gives
// up after five.
func DefaultBackoff() Backoff {
	return Backoff{
		Schedule:    []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour},
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the next attempt, given how many attempts
// have already run. Past the end of the schedule the last entry applies.
func (b Backoff) Delay(attempts int) time.Duration {
	if len(b.Schedule) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.Schedule) {
		idx = len(b.Schedule) - 1
	}
	return b.Schedule[idx]
}

// Exhausted reports whether the job is out of attempts.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
