package engine

import "time"

// RetryPolicy decides how long to wait before the given reconnect attempt.
type RetryPolicy interface {
	// NextDelay returns false once attempt exceeds the retry budget.
	NextDelay(attempt int) (time.Duration, bool)
}

// LinearPolicy grows the delay by Interval per attempt, capped at MaxInterval.
type LinearPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	MaxInterval time.Duration
}

func DefaultPolicy() LinearPolicy {
	return LinearPolicy{MaxAttempts: 10, Interval: 300 * time.Millisecond, MaxInterval: 5 * time.Second}
}

// NextDelay is zero for the first attempt.
func (p LinearPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	d := time.Duration(attempt) * p.Interval
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d, true
}
