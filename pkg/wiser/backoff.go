package wiser

import "time"

// backoff doubles the delay after each failure, up to max when max is set.
// It is only used from the connection loop goroutine.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the delay to wait for the current failure and doubles it for
// the next one.
func (b *backoff) Next() time.Duration {
	delay := b.current
	b.current = b.current * 2
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}
	if b.max > 0 && delay > b.max {
		delay = b.max
	}
	return delay
}

func (b *backoff) Reset() {
	b.current = b.initial
}
