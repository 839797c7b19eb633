// Package retry supplies the backoff.BackOff implementation used by
// internal/remote's retrying client wrapper. Grounded on the teacher's use
// of github.com/cenkalti/backoff/v4 for remote collaborator retries
// (config.Store's retrying HTTP client), generalized from its built-in
// exponential policy to the linear policy spec.md's remote-store retry
// section calls for.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff implements backoff.BackOff with a fixed per-attempt
// increment instead of cenkalti/backoff's default exponential growth,
// bounded by MaxInterval and MaxElapsedTime.
type LinearBackOff struct {
	InitialInterval time.Duration
	Increment       time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Now             func() time.Time

	startTime time.Time
	current   time.Duration
}

// NewLinearBackOff returns a LinearBackOff starting at initial and growing
// by increment on every call to NextBackOff, capped at maxInterval (0 for
// unbounded).
func NewLinearBackOff(initial, increment, maxInterval time.Duration) *LinearBackOff {
	return &LinearBackOff{InitialInterval: initial, Increment: increment, MaxInterval: maxInterval}
}

func (b *LinearBackOff) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// NextBackOff returns the next wait duration, or backoff.Stop once
// MaxElapsedTime has been exceeded.
func (b *LinearBackOff) NextBackOff() time.Duration {
	now := b.now()
	if b.startTime.IsZero() {
		b.startTime = now
	}
	if b.MaxElapsedTime > 0 && now.Sub(b.startTime) > b.MaxElapsedTime {
		return backoff.Stop
	}

	if b.current == 0 {
		b.current = b.InitialInterval
	}
	d := b.current
	b.current += b.Increment
	if b.MaxInterval > 0 && b.current > b.MaxInterval {
		b.current = b.MaxInterval
	}
	return d
}

// Reset clears elapsed-time tracking and restarts at InitialInterval.
func (b *LinearBackOff) Reset() {
	b.startTime = time.Time{}
	b.current = 0
}

var _ backoff.BackOff = (*LinearBackOff)(nil)
