package client

import "time"

// backoff computes the wait between reconnect attempts: exponential
// from Initial, capped at Max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &backoff{initial: initial, max: max}
}

func (b *backoff) next() time.Duration {
	d := b.initial << b.attempt
	if d > b.max || d <= 0 {
		d = b.max
	}
	b.attempt++
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
