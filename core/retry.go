package core

import "time"

type RetryDecision struct {
	Attempts   int
	Status     EventStatus
	Delay      time.Duration
	DeadLetter bool
}

type RetryPolicy interface {
	// Decide returns the outcome of a failed processing cycle given the
	// attempts recorded before it.
	Decide(previousAttempts int) RetryDecision
}

// FixedDelayRetryPolicy retries after a constant delay until MaxAttempts
// failed cycles have been recorded, then dead-letters the event.
type FixedDelayRetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p FixedDelayRetryPolicy) Decide(previousAttempts int) RetryDecision {
	if previousAttempts < 0 {
		previousAttempts = 0
	}
	attempts := previousAttempts + 1
	if attempts >= p.maxAttempts() {
		return RetryDecision{
			Attempts:   attempts,
			Status:     EventStatusFailed,
			DeadLetter: true,
		}
	}
	return RetryDecision{
		Attempts: attempts,
		Status:   EventStatusPending,
		Delay:    p.delay(),
	}
}

func (p FixedDelayRetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p FixedDelayRetryPolicy) delay() time.Duration {
	if p.Delay <= 0 {
		return DefaultRetryDelay
	}
	return p.Delay
}

