package policy

import (
	"sync"
	"time"
)

// Decision is the outcome of consulting the policy after a chunk failure.
type Decision int

const (
	// Retry re-enqueues the chunk as pending.
	Retry Decision = iota
	// Fail marks the chunk failed for good; attempts are exhausted.
	Fail
	// SkipScope marks the chunk failed and opens the circuit for its scope:
	// remaining pending chunks in the scope are skipped without attempts.
	SkipScope
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "skip-scope"
	}
}

// Policy decides what happens on each chunk failure, separate from dispatch
// plumbing so it can be tested on its own. It tracks failure timestamps per
// scope; a scope whose failures cross the threshold within the window has
// its circuit opened for the rest of the run.
type Policy struct {
	maxAttempts      int
	circuitThreshold int
	circuitWindow    time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
	open     map[string]bool
}

func New(maxAttempts, circuitThreshold int, circuitWindow time.Duration) *Policy {
	return &Policy{
		maxAttempts:      maxAttempts,
		circuitThreshold: circuitThreshold,
		circuitWindow:    circuitWindow,
		failures:         make(map[string][]time.Time),
		open:             make(map[string]bool),
	}
}

// OnFailure records one failure for the scope and decides the chunk's fate.
// attempts is the number of attempts the chunk has consumed so far,
// including the one that just failed.
func (p *Policy) OnFailure(scope string, attempts int, now time.Time) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	recent := p.pruneLocked(scope, now)
	recent = append(recent, now)
	p.failures[scope] = recent

	if len(recent) >= p.circuitThreshold {
		p.open[scope] = true
		return SkipScope
	}

	if attempts < p.maxAttempts {
		return Retry
	}
	return Fail
}

// ScopeOpen reports whether the scope's circuit has been opened. The job
// manager checks this before dispatching a pending chunk.
func (p *Policy) ScopeOpen(scope string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[scope]
}

func (p *Policy) pruneLocked(scope string, now time.Time) []time.Time {
	cutoff := now.Add(-p.circuitWindow)
	history := p.failures[scope]
	kept := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
