package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/sharesync/internal/health"
	"github.com/sonroyaalmerol/sharesync/internal/jobs/policy"
	"github.com/sonroyaalmerol/sharesync/internal/planner"
	"github.com/sonroyaalmerol/sharesync/internal/progress"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/utils/safemap"
	"github.com/sonroyaalmerol/sharesync/internal/worker"
)

var ErrStopped = errors.New("job manager stopped")

// Options configure a job manager run.
type Options struct {
	Workers     int
	GracePeriod time.Duration

	StallInterval time.Duration
	StallTimeout  time.Duration

	// DispatchRate paces chunk dispatch so a storm of short chunks does not
	// hammer the redirector. Zero means one dispatch per 100ms.
	DispatchRate rate.Limit

	// CopyFlags are appended to every copy-tool invocation.
	CopyFlags []string

	// Persist is called with the full completed-chunk id list after every
	// chunk success, so a crash loses at most the in-flight chunks.
	Persist func(completed []string)
}

// Summary is the outcome of one run over a chunk list.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Stopped   int

	CopiedBytes int64
	CopiedFiles int64
}

type outcome struct {
	chunk   *planner.Chunk
	code    int
	err     error
	stalled bool
}

// Manager owns the worker pool: it dispatches pending chunks to at most
// Workers concurrent copy processes, applies the retry and circuit-breaker
// policy to failures, and watches workers for stalls. All chunk status
// mutations happen in the run loop goroutine, so there is a single writer
// and the completion-vs-stall race resolves to whichever the loop sees.
type Manager struct {
	launcher worker.Launcher
	pol      *policy.Policy
	pub      *progress.Publisher
	opts     Options

	limiter *rate.Limiter
	monitor *health.Monitor
	handles *safemap.Map[string, *Handle]

	remaining atomic.Int64

	mu        sync.Mutex
	stopping  bool
	completed []string
}

// Handle pairs an in-flight chunk with its process. It is the health
// monitor's probe for the worker.
type Handle struct {
	chunk *planner.Chunk
	proc  worker.Proc

	stalled atomic.Bool
}

func (h *Handle) Key() string { return h.chunk.ID }

func (h *Handle) LastOutput() time.Time { return h.proc.LastOutput() }

func NewManager(launcher worker.Launcher, pol *policy.Policy, pub *progress.Publisher, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DispatchRate == 0 {
		opts.DispatchRate = rate.Every(100 * time.Millisecond)
	}
	if opts.StallInterval == 0 {
		opts.StallInterval = 15 * time.Second
	}
	if opts.StallTimeout == 0 {
		opts.StallTimeout = 10 * time.Minute
	}

	m := &Manager{
		launcher: launcher,
		pol:      pol,
		pub:      pub,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.DispatchRate, opts.Workers),
		handles:  safemap.New[string, *Handle](),
	}
	m.monitor = health.NewMonitor(opts.StallInterval, opts.StallTimeout, m.killStalled)
	return m
}

// Run processes chunks to completion, retry exhaustion, or stop. Chunks are
// dispatched in the given order; a chunk whose scope's circuit is open is
// skipped without consuming an attempt. Run returns once no work remains.
func (m *Manager) Run(ctx context.Context, chunks []*planner.Chunk) (*Summary, error) {
	monCtx, cancelMon := context.WithCancel(ctx)
	defer cancelMon()
	go m.monitor.Start(monCtx)

	pending := make([]*planner.Chunk, len(chunks))
	copy(pending, chunks)
	m.remaining.Store(int64(len(chunks)))

	results := make(chan outcome)
	summary := &Summary{}
	inflight := 0

	for {
		halted := m.halted(ctx)

		for !halted && inflight < m.opts.Workers && len(pending) > 0 {
			c := pending[0]
			pending = pending[1:]

			if m.pol.ScopeOpen(c.Scope) {
				c.Status = planner.Skipped
				summary.Skipped++
				m.remaining.Add(-1)
				m.publish(progress.ChunkSkipped, c, 0, 0, nil)
				continue
			}

			if err := m.limiter.Wait(ctx); err != nil {
				pending = append([]*planner.Chunk{c}, pending...)
				halted = true
				break
			}

			c.Status = planner.Running
			c.Attempts++
			inflight++
			m.publish(progress.ChunkStarted, c, 0, 0, nil)
			go m.execute(ctx, c, results)
		}

		if inflight == 0 {
			if halted {
				summary.Stopped = len(pending)
			}
			break
		}

		out := <-results
		inflight--
		if requeue := m.settle(out, summary); requeue != nil {
			pending = append(pending, requeue)
		}
	}

	if summary.Stopped > 0 || m.halted(ctx) {
		return summary, ErrStopped
	}
	return summary, nil
}

func (m *Manager) halted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

func (m *Manager) execute(ctx context.Context, c *planner.Chunk, results chan<- outcome) {
	spec := worker.Spec{
		Source:     c.Source,
		Dest:       c.Dest,
		Recurse:    c.Recurse,
		ExtraFlags: m.opts.CopyFlags,
	}

	proc, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		results <- outcome{chunk: c, err: fmt.Errorf("execute: error launching worker -> %w", err)}
		return
	}

	h := &Handle{chunk: c, proc: proc}
	m.handles.Set(c.ID, h)
	m.monitor.Register(h)

	code, waitErr := proc.Wait()

	m.monitor.Unregister(c.ID)
	m.handles.Del(c.ID)

	results <- outcome{chunk: c, code: code, err: waitErr, stalled: h.stalled.Load()}
}

// killStalled is the monitor's stall callback. It only kills the process;
// the run loop settles the chunk when Wait returns, so a worker that
// completed between the stall detection and the kill still counts as
// whatever its exit code says.
func (m *Manager) killStalled(chunkID string) {
	h, ok := m.handles.Get(chunkID)
	if !ok {
		return
	}

	h.stalled.Store(true)

	if err := h.proc.Stop(m.opts.GracePeriod); err != nil {
		syslog.L.Error(err).
			WithMessage("failed to kill stalled worker").
			WithField("chunk_id", chunkID).
			WithField("pid", h.proc.PID()).
			Write()
	}
}

func (m *Manager) settle(out outcome, summary *Summary) *planner.Chunk {
	c := out.chunk

	if out.err == nil {
		switch worker.Classify(out.code) {
		case worker.ExitClean, worker.ExitWarning:
			c.Status = planner.Succeeded
			summary.Succeeded++
			m.remaining.Add(-1)
			summary.CopiedBytes += c.EstBytes
			summary.CopiedFiles += c.EstFiles

			m.mu.Lock()
			m.completed = append(m.completed, c.ID)
			completed := append([]string(nil), m.completed...)
			m.mu.Unlock()

			if m.opts.Persist != nil {
				m.opts.Persist(completed)
			}

			m.publish(progress.ChunkCompleted, c, c.EstBytes, c.EstFiles, nil)
			return nil
		}
	}

	failErr := out.err
	if failErr == nil {
		failErr = fmt.Errorf("copy tool exited with code %d", out.code)
	}
	if out.stalled {
		failErr = fmt.Errorf("worker stalled and was killed -> %w", failErr)
	}

	switch m.pol.OnFailure(c.Scope, c.Attempts, time.Now()) {
	case policy.Retry:
		c.Status = planner.Pending
		m.publish(progress.ChunkRetried, c, 0, 0, failErr)
		return c
	case policy.SkipScope:
		c.Status = planner.Failed
		summary.Failed++
		m.remaining.Add(-1)
		m.publish(progress.ChunkFailed, c, 0, 0, failErr)
		syslog.L.Warn().
			WithMessage("circuit opened, remaining chunks in scope will be skipped").
			WithField("scope", c.Scope).
			Write()
		return nil
	default:
		c.Status = planner.Failed
		summary.Failed++
		m.remaining.Add(-1)
		m.publish(progress.ChunkFailed, c, 0, 0, failErr)
		return nil
	}
}

// Stop halts dispatch and terminates every in-flight worker, waiting up to
// the grace period for each. It returns the join of termination failures;
// chunks whose workers refuse to die are settled as failures by the run
// loop once their Wait finally returns.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		errs []error
	)

	m.handles.ForEach(func(id string, h *Handle) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.proc.Stop(m.opts.GracePeriod); err != nil {
				errM.Lock()
				errs = append(errs, fmt.Errorf("Stop: chunk %s -> %w", id, err))
				errM.Unlock()
			}
		}()
		return true
	})

	wg.Wait()
	return errors.Join(errs...)
}

// Completed returns the ids of chunks that have succeeded so far.
func (m *Manager) Completed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completed...)
}

func (m *Manager) publish(t progress.Type, c *planner.Chunk, bytes, files int64, err error) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(progress.Event{
		Type:      t,
		ChunkID:   c.ID,
		Scope:     c.Scope,
		Bytes:     bytes,
		Files:     files,
		Remaining: int(m.remaining.Load()),
		Attempt:   c.Attempts,
		Err:       err,
	})
}
