package utils

import "time"

// ExponentialBackoff produces a doubling wait series capped at Max. It is
// used wherever an OS resource needs a moment before a retry: a VSS writer
// still flushing, a drive letter another process has not released yet.
// Not safe for concurrent use; each retry loop owns its own instance.
type ExponentialBackoff struct {
	Current    time.Duration
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func NewExponentialBackoff(initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:    initial,
		Max:        max,
		Current:    initial,
		Multiplier: 2.0,
	}
}

// NextBackOff returns the wait for this attempt and advances the series.
func (b *ExponentialBackoff) NextBackOff() time.Duration {
	d := b.Current
	b.Current = time.Duration(float64(b.Current) * b.Multiplier)
	if b.Current > b.Max {
		b.Current = b.Max
	}
	return d
}

// Reset rewinds the series to its initial wait.
func (b *ExponentialBackoff) Reset() {
	b.Current = b.Initial
}
