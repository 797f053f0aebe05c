package health

import (
	"context"
	"time"

	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/utils/safemap"
)

// Probe is one observed worker. LastOutput must be safe to call from the
// monitor goroutine while the worker is running.
type Probe interface {
	Key() string
	LastOutput() time.Time
}

// Monitor watches registered probes and reports the ones whose output has
// gone quiet for longer than the stall timeout. A stalled probe is reported
// once and dropped; whoever handles the report decides what to do with the
// worker and re-registers it if it comes back.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	onStall  func(key string)

	probes *safemap.Map[string, Probe]
}

func NewMonitor(interval, timeout time.Duration, onStall func(key string)) *Monitor {
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		onStall:  onStall,
		probes:   safemap.New[string, Probe](),
	}
}

func (m *Monitor) Register(p Probe) {
	m.probes.Set(p.Key(), p)
}

func (m *Monitor) Unregister(key string) {
	m.probes.Del(key)
}

// Start runs the polling loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Monitor) sweep(now time.Time) {
	var stalled []string

	m.probes.ForEach(func(key string, p Probe) bool {
		if now.Sub(p.LastOutput()) > m.timeout {
			stalled = append(stalled, key)
		}
		return true
	})

	for _, key := range stalled {
		// GetAndDel wins or loses against a concurrent Unregister from a
		// worker that just completed; losing means no report, which is the
		// completion-beats-stall behavior we want.
		if _, ok := m.probes.GetAndDel(key); !ok {
			continue
		}

		syslog.L.Warn().
			WithMessage("worker stalled, no output within timeout").
			WithField("worker", key).
			WithField("timeout", m.timeout.String()).
			Write()

		m.onStall(key)
	}
}
