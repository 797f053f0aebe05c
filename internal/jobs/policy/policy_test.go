package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetriesUntilAttemptsExhausted(t *testing.T) {
	p := New(3, 100, time.Minute)
	now := time.Now()

	assert.Equal(t, Retry, p.OnFailure("share1", 1, now))
	assert.Equal(t, Retry, p.OnFailure("share1", 2, now))
	assert.Equal(t, Fail, p.OnFailure("share1", 3, now))
}

func TestCircuitOpensAtThresholdWithinWindow(t *testing.T) {
	p := New(10, 3, time.Minute)
	now := time.Now()

	assert.Equal(t, Retry, p.OnFailure("share1", 1, now))
	assert.Equal(t, Retry, p.OnFailure("share1", 1, now.Add(time.Second)))
	assert.Equal(t, SkipScope, p.OnFailure("share1", 1, now.Add(2*time.Second)))

	assert.True(t, p.ScopeOpen("share1"))
	assert.False(t, p.ScopeOpen("share2"))
}

func TestWindowExpiryForgetsFailures(t *testing.T) {
	p := New(10, 3, time.Minute)
	now := time.Now()

	p.OnFailure("share1", 1, now)
	p.OnFailure("share1", 1, now.Add(time.Second))

	// Third failure arrives after the first two have aged out.
	later := now.Add(2 * time.Minute)
	assert.Equal(t, Retry, p.OnFailure("share1", 1, later))
	assert.False(t, p.ScopeOpen("share1"))
}

func TestScopesAreIndependent(t *testing.T) {
	p := New(10, 2, time.Minute)
	now := time.Now()

	p.OnFailure("dead-share", 1, now)
	assert.Equal(t, SkipScope, p.OnFailure("dead-share", 1, now))

	assert.Equal(t, Retry, p.OnFailure("healthy-share", 1, now))
	assert.True(t, p.ScopeOpen("dead-share"))
	assert.False(t, p.ScopeOpen("healthy-share"))
}

func TestOpenCircuitStaysOpen(t *testing.T) {
	p := New(10, 2, time.Second)
	now := time.Now()

	p.OnFailure("share1", 1, now)
	p.OnFailure("share1", 1, now)
	assert.True(t, p.ScopeOpen("share1"))

	// The window only bounds accumulation; an opened circuit does not
	// close when old failures age out.
	assert.True(t, p.ScopeOpen("share1"))
}
