// Package retry provides the bounded exponential backoff policy used by
// components that reconnect to the gateway.
package retry

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: the delay starts at Min and is
// multiplied by Multiplier after every attempt, capped at Max. Optional
// jitter spreads delays when several clients fail at once. The zero value is
// not usable; use New or fill in Min/Max/Multiplier.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of the delay randomized in both directions
	// (0.2 means ±20%). Zero disables jitter and makes the sequence of
	// delays non-decreasing up to Max.
	Jitter float64

	attempt int
}

// New returns a backoff policy with the given bounds and a doubling
// multiplier.
func New(min, max time.Duration) *Backoff {
	return &Backoff{Min: min, Max: max, Multiplier: 2}
}

// Next returns the delay to wait before the next attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	d := b.Current()
	b.attempt++
	return d
}

// Current returns the delay for the current attempt without advancing.
func (b *Backoff) Current() time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(b.Min)
	for i := 0; i < b.attempt; i++ {
		d *= mult
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}

	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}

	delay := time.Duration(d)
	if delay < b.Min {
		delay = b.Min
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns the policy to the minimum delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}
