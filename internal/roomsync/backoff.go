package roomsync

import "time"

// backoff computes linear reconnection delays: attempt n waits min(n, cap)
// units. The counter resets to zero on any successful reconnect, so the
// first retry after a fresh failure waits one unit.
type backoff struct {
	unit     time.Duration
	capUnits int
	attempt  int
}

func newBackoff(unit time.Duration, capUnits int) *backoff {
	return &backoff{unit: unit, capUnits: capUnits}
}

// Next advances the attempt counter and returns the delay before the next
// reconnection attempt.
func (b *backoff) Next() time.Duration {
	b.attempt++
	n := b.attempt
	if n > b.capUnits {
		n = b.capUnits
	}
	return time.Duration(n) * b.unit
}

// Reset clears the attempt counter after a successful reconnect.
func (b *backoff) Reset() { b.attempt = 0 }

// Attempt returns the number of attempts made since the last reset.
func (b *backoff) Attempt() int { return b.attempt }
