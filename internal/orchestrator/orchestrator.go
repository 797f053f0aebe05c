package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexflint/go-filemutex"

	"github.com/sonroyaalmerol/sharesync/internal/checkpoint"
	"github.com/sonroyaalmerol/sharesync/internal/config"
	"github.com/sonroyaalmerol/sharesync/internal/jobs"
	"github.com/sonroyaalmerol/sharesync/internal/jobs/policy"
	"github.com/sonroyaalmerol/sharesync/internal/netmap"
	"github.com/sonroyaalmerol/sharesync/internal/planner"
	"github.com/sonroyaalmerol/sharesync/internal/profiler"
	"github.com/sonroyaalmerol/sharesync/internal/progress"
	"github.com/sonroyaalmerol/sharesync/internal/snapshots"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/worker"
)

var (
	ErrAlreadyRunning = errors.New("another replication run holds the instance lock")
	ErrNotIdle        = errors.New("orchestrator has already run")
)

// RunSummary is the value-type outcome of one orchestration run.
type RunSummary struct {
	Profile string
	Phase   Phase
	Resumed bool

	Succeeded int
	Failed    int
	Skipped   int
	Stopped   int

	CopiedBytes int64
	CopiedFiles int64
	TotalBytes  int64
	TotalFiles  int64

	Duration time.Duration
}

// Orchestrator sequences one replication run through its phases and owns
// every resource the run acquires. An Orchestrator is single-use: create a
// fresh one per run.
type Orchestrator struct {
	cfg      *config.Config
	launcher worker.Launcher
	snaps    *snapshots.Manager
	drives   *netmap.Manager
	cpStore  *checkpoint.Store
	pub      *progress.Publisher

	phase atomic.Int32

	mu          sync.Mutex
	jobMgr      *jobs.Manager
	runCancel   context.CancelFunc
	cred        *netmap.Credential
	snapRec     *snapshots.Record
	srcMapping  *netmap.MappingRecord
	destMapping *netmap.MappingRecord
	stopErrs    []error
}

func New(
	cfg *config.Config,
	launcher worker.Launcher,
	snaps *snapshots.Manager,
	drives *netmap.Manager,
	cpStore *checkpoint.Store,
	pub *progress.Publisher,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		launcher: launcher,
		snaps:    snaps,
		drives:   drives,
		cpStore:  cpStore,
		pub:      pub,
	}
}

// SetCredential hands the orchestrator the account used for drive mappings.
// The orchestrator owns it from here: it is cleared during teardown.
func (o *Orchestrator) SetCredential(cred *netmap.Credential) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cred = cred
}

func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(int32(p))
	if o.pub != nil {
		o.pub.Publish(progress.Event{Type: progress.PhaseChanged, Phase: p.String()})
	}
	syslog.L.Info().
		WithMessage("phase changed").
		WithField("phase", p.String()).
		WithField("profile", o.cfg.Profile.Name).
		Write()
}

// Run executes the full orchestration: reconcile leftovers, profile, plan,
// acquire snapshot and mappings, copy, tear down. It always returns a
// summary, even on failure or stop.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	started := time.Now()
	summary := RunSummary{Profile: o.cfg.Profile.Name, Phase: PhaseIdle}

	if o.Phase() != PhaseIdle {
		summary.Phase = o.Phase()
		return summary, ErrNotIdle
	}

	lock, err := o.acquireInstanceLock()
	if err != nil {
		summary.Phase = PhaseFailed
		o.phase.Store(int32(PhaseFailed))
		return summary, err
	}
	defer func() {
		_ = lock.Unlock()
		_ = lock.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.runCancel = cancel
	o.mu.Unlock()

	runErr := o.runPhases(ctx, &summary)

	teardownErrs := o.teardown()
	o.finish(&summary, runErr, teardownErrs)
	summary.Duration = time.Since(started)

	if runErr != nil {
		return summary, runErr
	}
	return summary, errors.Join(teardownErrs...)
}

func (o *Orchestrator) runPhases(ctx context.Context, summary *RunSummary) error {
	// Leftovers from a crashed run are released before new resources are
	// acquired, so drive letters and shadow storage return to the pool.
	if err := o.snaps.ReconcileOrphans(); err != nil {
		syslog.L.Error(err).WithMessage("snapshot reconciliation failed").Write()
	}
	if err := o.drives.ReconcileOrphans(); err != nil {
		syslog.L.Error(err).WithMessage("drive mapping reconciliation failed").Write()
	}

	o.setPhase(PhaseProfiling)
	stats, err := o.profile(ctx)
	if err != nil {
		return fmt.Errorf("runPhases: profiling failed -> %w", err)
	}

	o.setPhase(PhaseChunking)
	plan, remaining, prior, resumed, err := o.plan(stats)
	if err != nil {
		return fmt.Errorf("runPhases: planning failed -> %w", err)
	}
	summary.Resumed = resumed
	summary.TotalBytes = plan.TotalBytes
	summary.TotalFiles = plan.TotalFiles

	o.setPhase(PhaseAcquiring)
	if err := o.acquire(ctx); err != nil {
		return fmt.Errorf("runPhases: acquisition failed -> %w", err)
	}
	o.rewritePaths(remaining)

	o.setPhase(PhaseCopying)
	return o.copy(ctx, summary, remaining, prior)
}

func (o *Orchestrator) profile(ctx context.Context) ([]profiler.DirStats, error) {
	prof, err := profiler.New(o.cfg.Profile.Excludes)
	if err != nil {
		return nil, err
	}
	stream, err := prof.Walk(ctx, o.cfg.Profile.Source)
	if err != nil {
		return nil, err
	}
	stats := profiler.Collect(ctx, stream)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (o *Orchestrator) plan(stats []profiler.DirStats) (*planner.Plan, []*planner.Chunk, []string, bool, error) {
	plan, err := planner.Build(stats, planner.Params{
		SourceRoot: o.cfg.Profile.Source,
		DestRoot:   o.cfg.Profile.Destination,
		Scope:      o.cfg.Profile.Name,
		MaxBytes:   o.cfg.MaxChunkBytes,
		MaxFiles:   o.cfg.MaxChunkFiles,
	})
	if err != nil {
		return nil, nil, nil, false, err
	}

	remaining := plan.Chunks
	var prior []string
	resumed := false

	cp, err := o.cpStore.Load(o.cfg.Profile.Name)
	if err != nil {
		syslog.L.Error(err).WithMessage("checkpoint load failed, starting fresh").Write()
	} else if cp != nil {
		if cp.Matches(o.cfg.MaxChunkBytes, o.cfg.MaxChunkFiles) {
			done := cp.CompletedSet()
			remaining = plan.Filter(done)
			if len(remaining) < len(plan.Chunks) {
				prior = cp.CompletedChunks
				resumed = true
				syslog.L.Info().
					WithMessage("resuming from checkpoint").
					WithField("completed", len(prior)).
					WithField("remaining", len(remaining)).
					Write()
			}
		} else {
			// Different thresholds invalidate old chunk ids entirely.
			if err := o.cpStore.Clear(o.cfg.Profile.Name); err != nil {
				syslog.L.Error(err).WithMessage("stale checkpoint clear failed").Write()
			}
		}
	}

	return plan, remaining, prior, resumed, nil
}

// acquire maps UNC roots and snapshots the source volume. Mappings come
// first so teardown, which runs in reverse, releases the snapshot while its
// volume is still reachable.
func (o *Orchestrator) acquire(ctx context.Context) error {
	o.mu.Lock()
	cred := o.cred
	o.mu.Unlock()

	if isUNC(o.cfg.Profile.Source) {
		root, err := netmap.ParseUNCPath(o.cfg.Profile.Source)
		if err != nil {
			return err
		}
		rec, err := o.drives.Map(ctx, root.ShareRoot(), cred)
		if err != nil {
			return err
		}
		o.mu.Lock()
		o.srcMapping = rec
		o.mu.Unlock()
	}

	if isUNC(o.cfg.Profile.Destination) {
		root, err := netmap.ParseUNCPath(o.cfg.Profile.Destination)
		if err != nil {
			return err
		}
		rec, err := o.drives.Map(ctx, root.ShareRoot(), cred)
		if err != nil {
			return err
		}
		o.mu.Lock()
		o.destMapping = rec
		o.mu.Unlock()
	}

	if o.cfg.Profile.UseSnapshot {
		rec, err := o.snaps.Acquire(ctx, o.cfg.Profile.Source, o.cfg.Profile.RemoteSnapshot)
		if err != nil {
			return err
		}
		o.mu.Lock()
		o.snapRec = rec
		o.mu.Unlock()
	}

	return nil
}

// rewritePaths translates chunk endpoints from the profiled namespace into
// the acquired one: snapshot first, then drive mapping, so a remote
// snapshot's junction path lands under the mapped drive.
func (o *Orchestrator) rewritePaths(chunks []*planner.Chunk) {
	o.mu.Lock()
	snapRec := o.snapRec
	srcMap := o.srcMapping
	destMap := o.destMapping
	o.mu.Unlock()

	for _, c := range chunks {
		if snapRec != nil {
			c.Source = snapRec.Remap(c.Source)
		}
		if srcMap != nil {
			c.Source = srcMap.Remap(c.Source)
		}
		if destMap != nil {
			c.Dest = destMap.Remap(c.Dest)
		}
	}
}

func (o *Orchestrator) copy(ctx context.Context, summary *RunSummary, chunks []*planner.Chunk, prior []string) error {
	persist := func(completed []string) {
		all := make([]string, 0, len(prior)+len(completed))
		all = append(all, prior...)
		all = append(all, completed...)

		err := o.cpStore.Save(checkpoint.Checkpoint{
			Profile:         o.cfg.Profile.Name,
			CompletedChunks: all,
			MaxChunkBytes:   o.cfg.MaxChunkBytes,
			MaxChunkFiles:   o.cfg.MaxChunkFiles,
			Phase:           PhaseCopying.String(),
		})
		if err != nil {
			syslog.L.Error(err).WithMessage("checkpoint save failed").Write()
		}
	}

	mgr := jobs.NewManager(
		o.launcher,
		policy.New(o.cfg.RetryMax, o.cfg.CircuitThreshold, o.cfg.CircuitWindow),
		o.pub,
		jobs.Options{
			Workers:      o.cfg.Concurrency,
			GracePeriod:  o.cfg.KillGracePeriod,
			StallTimeout: o.cfg.StallTimeout,
			CopyFlags:    o.cfg.CopyFlags,
			Persist:      persist,
		},
	)

	o.mu.Lock()
	o.jobMgr = mgr
	o.mu.Unlock()

	jobSummary, err := mgr.Run(ctx, chunks)
	summary.Succeeded = jobSummary.Succeeded
	summary.Failed = jobSummary.Failed
	summary.Skipped = jobSummary.Skipped
	summary.Stopped = jobSummary.Stopped
	summary.CopiedBytes = jobSummary.CopiedBytes
	summary.CopiedFiles = jobSummary.CopiedFiles
	return err
}

// Stop halts the run from any non-terminal phase. Worker termination
// happens here; the run goroutine performs the rest of the teardown on its
// way out and parks the machine in Stopped.
func (o *Orchestrator) Stop() error {
	p := o.Phase()
	if p.Terminal() {
		return nil
	}

	// Before Run starts there is no goroutine to advance Stopping any
	// further, so an idle machine parks directly.
	if o.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseStopped)) {
		return nil
	}

	o.setPhase(PhaseStopping)

	o.mu.Lock()
	mgr := o.jobMgr
	cancel := o.runCancel
	o.mu.Unlock()

	var stopErr error
	if mgr != nil {
		stopErr = mgr.Stop()
		if stopErr != nil {
			syslog.L.Error(stopErr).WithMessage("worker termination failed during stop").Write()
			o.mu.Lock()
			o.stopErrs = append(o.stopErrs, stopErr)
			o.mu.Unlock()
		}
	}
	if cancel != nil {
		cancel()
	}
	return stopErr
}

// teardown releases everything the run acquired, in dependency order:
// junction and snapshot first, then drive mappings, then the credential.
// A failed step never prevents the later steps from running.
func (o *Orchestrator) teardown() []error {
	o.mu.Lock()
	snapRec := o.snapRec
	srcMap := o.srcMapping
	destMap := o.destMapping
	cred := o.cred
	o.snapRec = nil
	o.srcMapping = nil
	o.destMapping = nil
	o.cred = nil
	o.mu.Unlock()

	var errs []error

	if snapRec != nil {
		if err := o.snaps.Release(snapRec); err != nil {
			syslog.L.Error(err).WithMessage("snapshot release failed during teardown").Write()
			errs = append(errs, err)
		}
	}

	for _, rec := range []*netmap.MappingRecord{srcMap, destMap} {
		if rec == nil {
			continue
		}
		if err := o.drives.Unmap(rec, true); err != nil {
			syslog.L.Error(err).WithMessage("drive unmap failed during teardown").Write()
			errs = append(errs, err)
		}
	}

	cred.Clear()

	return errs
}

func (o *Orchestrator) finish(summary *RunSummary, runErr error, teardownErrs []error) {
	o.mu.Lock()
	stopped := len(o.stopErrs) > 0 || o.Phase() == PhaseStopping
	o.mu.Unlock()

	switch {
	case stopped || errors.Is(runErr, jobs.ErrStopped):
		o.phase.Store(int32(PhaseStopped))
	case runErr != nil || summary.Failed > 0 || len(teardownErrs) > 0:
		o.phase.Store(int32(PhaseFailed))
	default:
		// Chunks skipped by an open circuit are warnings, not a run failure.
		// The checkpoint stays so a later run retries only the skipped work.
		o.phase.Store(int32(PhaseCompleted))
		if summary.Skipped > 0 {
			syslog.L.Warn().
				WithMessage("run completed with skipped chunks").
				WithField("skipped", summary.Skipped).
				Write()
		} else if err := o.cpStore.Clear(o.cfg.Profile.Name); err != nil {
			syslog.L.Error(err).WithMessage("checkpoint clear failed").Write()
		}
	}

	summary.Phase = o.Phase()

	syslog.L.Info().
		WithMessage("run finished").
		WithFields(map[string]any{
			"profile":   summary.Profile,
			"phase":     summary.Phase.String(),
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}).
		Write()
}

func (o *Orchestrator) acquireInstanceLock() (*filemutex.FileMutex, error) {
	path := filepath.Join(o.cfg.TrackingDir, "run.lock")
	lock, err := filemutex.New(path)
	if err != nil {
		return nil, fmt.Errorf("acquireInstanceLock: error creating lock %q -> %w", path, err)
	}
	if err := lock.TryLock(); err != nil {
		_ = lock.Close()
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

func isUNC(path string) bool {
	return strings.HasPrefix(path, `\\`)
}
