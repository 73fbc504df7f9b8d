package agent

import (
	"context"
	"time"
)

const (
	DefaultPollInitial = 1 * time.Second
	DefaultPollMax     = 8 * time.Second
)

// Backoff is the poll schedule used while a run is pending
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the 1s, 2s, 4s, 8s, 8s, ... schedule
func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultPollInitial, Max: DefaultPollMax}
}

// Step decides what the poll loop does after observing status while waiting
// current. wait reports whether to sleep for current and poll again; next is
// the delay to use for the poll after that.
func (b Backoff) Step(current time.Duration, status RunStatus) (next time.Duration, wait bool) {
	if !status.Pending() {
		return current, false
	}
	next = current * 2
	if next > b.Max {
		next = b.Max
	}
	return next, true
}

// Schedule returns the first n delays the poll loop sleeps for
func (b Backoff) Schedule(n int) []time.Duration {
	delays := make([]time.Duration, 0, n)
	delay := b.Initial
	for range n {
		delays = append(delays, delay)
		delay, _ = b.Step(delay, RunInProgress)
	}
	return delays
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultPollInitial
	}
	if b.Max <= 0 {
		b.Max = DefaultPollMax
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	return b
}

// SleepFunc suspends the caller for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the timer-backed SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
