package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/sharesync/internal/jobs/policy"
	"github.com/sonroyaalmerol/sharesync/internal/planner"
	"github.com/sonroyaalmerol/sharesync/internal/progress"
	"github.com/sonroyaalmerol/sharesync/internal/worker"
)

type fakeProc struct {
	code    int
	block   bool
	stopErr error

	last     atomic.Int64
	stopOnce sync.Once
	exited   chan struct{}
}

func newFakeProc(code int, block bool) *fakeProc {
	p := &fakeProc{code: code, block: block, exited: make(chan struct{})}
	p.last.Store(time.Now().UnixNano())
	return p
}

func (p *fakeProc) PID() int { return 4242 }

func (p *fakeProc) Wait() (int, error) {
	if p.block {
		<-p.exited
	}
	return p.code, nil
}

func (p *fakeProc) LastOutput() time.Time { return time.Unix(0, p.last.Load()) }

func (p *fakeProc) Stop(grace time.Duration) error {
	if p.stopErr != nil {
		return p.stopErr
	}
	p.release()
	return nil
}

func (p *fakeProc) release() {
	p.stopOnce.Do(func() { close(p.exited) })
}

// fakeLauncher hands out exit codes per chunk source, consuming one entry
// per attempt so retries can observe different outcomes.
type fakeLauncher struct {
	mu       sync.Mutex
	codes    map[string][]int
	block    map[string]bool
	stopErrs map[string]error
	launched []string
	procs    []*fakeProc
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		codes:    make(map[string][]int),
		block:    make(map[string]bool),
		stopErrs: make(map[string]error),
	}
}

func (l *fakeLauncher) Launch(ctx context.Context, spec worker.Spec) (worker.Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	code := 0
	if seq := l.codes[spec.Source]; len(seq) > 0 {
		code = seq[0]
		l.codes[spec.Source] = seq[1:]
	}

	p := newFakeProc(code, l.block[spec.Source])
	p.stopErr = l.stopErrs[spec.Source]
	l.launched = append(l.launched, spec.Source)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *captureSink) Handle(ev progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) ofType(t progress.Type) []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func chunk(id, scope, src string, bytes, files int64) *planner.Chunk {
	return &planner.Chunk{
		ID:       id,
		Scope:    scope,
		RelPath:  src,
		Source:   src,
		Dest:     `D:\dest\` + src,
		Recurse:  true,
		EstBytes: bytes,
		EstFiles: files,
		Status:   planner.Pending,
	}
}

func testOptions() Options {
	return Options{
		Workers:       2,
		GracePeriod:   time.Second,
		StallInterval: time.Hour,
		StallTimeout:  time.Hour,
		DispatchRate:  rate.Inf,
	}
}

func TestRunAllSucceed(t *testing.T) {
	launcher := newFakeLauncher()
	sink := &captureSink{}
	pub := progress.NewPublisher(sink)

	var persisted [][]string
	opts := testOptions()
	opts.Persist = func(completed []string) {
		persisted = append(persisted, append([]string(nil), completed...))
	}

	m := NewManager(launcher, policy.New(2, 5, time.Minute), pub, opts)
	chunks := []*planner.Chunk{
		chunk("c1", "share", "a", 100, 10),
		chunk("c2", "share", "b", 200, 20),
		chunk("c3", "share", "c", 300, 30),
	}

	summary, err := m.Run(context.Background(), chunks)
	require.NoError(t, err)
	pub.Close()

	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(600), summary.CopiedBytes)
	assert.Equal(t, int64(60), summary.CopiedFiles)

	for _, c := range chunks {
		assert.Equal(t, planner.Succeeded, c.Status, c.ID)
	}

	assert.Len(t, sink.ofType(progress.ChunkStarted), 3)
	assert.Len(t, sink.ofType(progress.ChunkCompleted), 3)

	// The last persist call carries the full completed set.
	require.NotEmpty(t, persisted)
	assert.Len(t, persisted[len(persisted)-1], 3)
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, m.Completed())
}

func TestWarningExitCodesCountAsSuccess(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.codes["a"] = []int{3}

	m := NewManager(launcher, policy.New(2, 5, time.Minute), nil, testOptions())
	summary, err := m.Run(context.Background(), []*planner.Chunk{chunk("c1", "share", "a", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestFailedChunkIsRetriedThenSucceeds(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.codes["a"] = []int{16, 0}
	sink := &captureSink{}
	pub := progress.NewPublisher(sink)

	m := NewManager(launcher, policy.New(2, 5, time.Minute), pub, testOptions())
	c := chunk("c1", "share", "a", 1, 1)

	summary, err := m.Run(context.Background(), []*planner.Chunk{c})
	require.NoError(t, err)
	pub.Close()

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, c.Attempts)
	assert.Len(t, sink.ofType(progress.ChunkRetried), 1)
	assert.Equal(t, 2, launcher.launchCount())
}

func TestRetriesExhaustedMarksFailed(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.codes["a"] = []int{16, 16}

	m := NewManager(launcher, policy.New(2, 5, time.Minute), nil, testOptions())
	c := chunk("c1", "share", "a", 1, 1)

	summary, err := m.Run(context.Background(), []*planner.Chunk{c})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, planner.Failed, c.Status)
	assert.Equal(t, 2, c.Attempts)
}

func TestCircuitBreakerSkipsRemainingScopeChunks(t *testing.T) {
	launcher := newFakeLauncher()
	for _, src := range []string{"a", "b", "c"} {
		launcher.codes[src] = []int{16, 16, 16}
	}

	sink := &captureSink{}
	pub := progress.NewPublisher(sink)

	// Threshold 3 with 3 retry-exhausting chunks: the scope's circuit opens
	// before the tail of the queue dispatches.
	opts := testOptions()
	opts.Workers = 1
	m := NewManager(launcher, policy.New(1, 3, time.Minute), pub, opts)

	chunks := []*planner.Chunk{
		chunk("c1", "share", "a", 1, 1),
		chunk("c2", "share", "b", 1, 1),
		chunk("c3", "share", "c", 1, 1),
		chunk("c4", "share", "d", 1, 1),
		chunk("c5", "share", "e", 1, 1),
	}

	summary, err := m.Run(context.Background(), chunks)
	require.NoError(t, err)
	pub.Close()

	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, planner.Skipped, chunks[3].Status)
	assert.Equal(t, planner.Skipped, chunks[4].Status)
	assert.Zero(t, chunks[3].Attempts, "skipped chunks must not consume attempts")
	assert.Len(t, sink.ofType(progress.ChunkSkipped), 2)
}

func TestCircuitIsPerScope(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.codes["a"] = []int{16}
	launcher.codes["b"] = []int{16}

	opts := testOptions()
	opts.Workers = 1
	m := NewManager(launcher, policy.New(1, 2, time.Minute), nil, opts)

	chunks := []*planner.Chunk{
		chunk("c1", "share-a", "a", 1, 1),
		chunk("c2", "share-a", "b", 1, 1),
		chunk("c3", "share-a", "c", 1, 1),
		chunk("c4", "share-b", "d", 1, 1),
	}

	summary, err := m.Run(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, planner.Skipped, chunks[2].Status)
	assert.Equal(t, planner.Succeeded, chunks[3].Status, "other scopes keep running")
	assert.Equal(t, 1, summary.Skipped)
}

func TestStopKillsInflightAndLeavesPending(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.block["a"] = true
	launcher.block["b"] = true
	launcher.codes["a"] = []int{16}
	launcher.codes["b"] = []int{16}

	m := NewManager(launcher, policy.New(1, 10, time.Minute), nil, testOptions())
	chunks := []*planner.Chunk{
		chunk("c1", "share", "a", 1, 1),
		chunk("c2", "share", "b", 1, 1),
		chunk("c3", "share", "c", 1, 1),
		chunk("c4", "share", "d", 1, 1),
	}

	done := make(chan struct{})
	var summary *Summary
	var runErr error
	go func() {
		summary, runErr = m.Run(context.Background(), chunks)
		close(done)
	}()

	require.Eventually(t, func() bool { return launcher.launchCount() == 2 },
		time.Second, time.Millisecond)

	require.NoError(t, m.Stop())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not return after stop")
	}

	require.ErrorIs(t, runErr, ErrStopped)
	assert.Equal(t, 2, summary.Failed, "killed workers settle as failures")
	assert.Equal(t, 2, summary.Stopped, "undispatched chunks stay pending")
	assert.Equal(t, planner.Pending, chunks[2].Status)
	assert.Equal(t, planner.Pending, chunks[3].Status)
}

func TestStopReportsTerminationFailures(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.block["a"] = true
	launcher.stopErrs["a"] = assert.AnError

	m := NewManager(launcher, policy.New(1, 10, time.Minute), nil, testOptions())

	done := make(chan struct{})
	go func() {
		_, _ = m.Run(context.Background(), []*planner.Chunk{chunk("c1", "share", "a", 1, 1)})
		close(done)
	}()

	require.Eventually(t, func() bool { return launcher.launchCount() == 1 },
		time.Second, time.Millisecond)

	err := m.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1")

	// The worker refused to die for Stop; let it exit so Run can settle it.
	launcher.mu.Lock()
	launcher.procs[0].release()
	launcher.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not return after worker exit")
	}
}

func TestStalledWorkerIsKilledAndFailed(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.block["a"] = true
	launcher.codes["a"] = []int{16}

	opts := testOptions()
	opts.StallInterval = 5 * time.Millisecond
	opts.StallTimeout = time.Millisecond
	m := NewManager(launcher, policy.New(1, 10, time.Minute), nil, opts)

	c := chunk("c1", "share", "a", 1, 1)
	summary, err := m.Run(context.Background(), []*planner.Chunk{c})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, planner.Failed, c.Status)
}

func TestContextCancellationHaltsDispatch(t *testing.T) {
	launcher := newFakeLauncher()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(launcher, policy.New(1, 10, time.Minute), nil, testOptions())
	summary, err := m.Run(ctx, []*planner.Chunk{chunk("c1", "share", "a", 1, 1)})

	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, summary.Stopped)
	assert.Zero(t, launcher.launchCount())
}
