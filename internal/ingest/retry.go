package ingest

import "time"

// RetryPolicy is a fixed-backoff attempt budget.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Next decides what follows a failed attempt. attempt counts the attempts
// made so far, including the one that just failed. It returns the delay
// before the task becomes visible again and false when the budget is spent.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxRetries {
		return 0, false
	}
	return p.Backoff, true
}
