package snapshots

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/sharesync/internal/ledger"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/utils"
)

const (
	createRetryInitial = time.Second
	createRetryMax     = 15 * time.Second
	createAttempts     = 5
)

// Manager owns the snapshot lifecycle for a run: creation, path remapping,
// release, and crash-recovery reconciliation. Every live snapshot has a
// ledger entry before Acquire returns, and the entry is removed on release.
type Manager struct {
	provider Provider
	ledger   *ledger.Ledger[Record]
}

func NewManager(provider Provider, trackingDir string) (*Manager, error) {
	led, err := ledger.New[Record](filepath.Join(trackingDir, "snapshots.json"))
	if err != nil {
		return nil, fmt.Errorf("NewManager: error opening snapshot ledger -> %w", err)
	}
	return &Manager{provider: provider, ledger: led}, nil
}

// Acquire snapshots the volume containing source. Remote sources get a
// junction on the remote host so the snapshot is reachable over the share.
// Creation is retried with backoff while the OS reports another snapshot
// operation in progress.
func (m *Manager) Acquire(ctx context.Context, source string, remote bool) (*Record, error) {
	volume, err := VolumeOf(source)
	if err != nil {
		return nil, fmt.Errorf("Acquire: %w", err)
	}

	id, snapPath, err := m.createWithRetry(ctx, volume)
	if err != nil {
		return nil, err
	}

	rec := Record{
		ShadowID:     id,
		SourceVolume: volume,
		SnapshotPath: snapPath,
		Remote:       remote,
		CreatedAt:    time.Now(),
	}

	if remote {
		junction, err := m.provider.CreateJunction(volume, snapPath)
		if err != nil {
			_ = m.provider.DeleteSnapshot(id)
			return nil, fmt.Errorf("Acquire: error creating remote junction -> %w", err)
		}
		rec.JunctionPath = junction
	}

	// The ledger entry must be durable before the snapshot counts as
	// acquired; otherwise a crash here would orphan it invisibly.
	if err := m.ledger.Append(rec); err != nil {
		m.teardown(rec)
		return nil, fmt.Errorf("Acquire: error persisting snapshot record -> %w", err)
	}

	return &rec, nil
}

func (m *Manager) createWithRetry(ctx context.Context, volume string) (ShadowID, string, error) {
	backoff := utils.NewExponentialBackoff(createRetryInitial, createRetryMax)
	var lastErr error

	for attempt := 0; attempt < createAttempts; attempt++ {
		id, snapPath, err := m.provider.CreateSnapshot(ctx, volume)
		if err == nil {
			return id, snapPath, nil
		}
		lastErr = err

		if !strings.Contains(err.Error(), "in progress") {
			return "", "", fmt.Errorf("%w: %v", ErrSnapshotCreation, err)
		}

		select {
		case <-ctx.Done():
			return "", "", ErrSnapshotTimeout
		case <-time.After(backoff.NextBackOff()):
		}
	}

	return "", "", fmt.Errorf("%w: %v", ErrSnapshotCreation, lastErr)
}

// Release removes the snapshot, its junction, and the ledger entry.
// Releasing an already-released or unknown record is a no-op. The junction
// goes first: it depends on the snapshot, not the other way around.
func (m *Manager) Release(rec *Record) error {
	if rec == nil {
		return nil
	}

	var errs []error

	if rec.JunctionPath != "" {
		if err := m.provider.DeleteJunction(rec.JunctionPath); err != nil {
			errs = append(errs, fmt.Errorf("Release: error removing junction %q -> %w", rec.JunctionPath, err))
		}
	}

	if err := m.provider.DeleteSnapshot(rec.ShadowID); err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		errs = append(errs, fmt.Errorf("Release: error removing snapshot %s -> %w", rec.ShadowID, err))
	}

	// The ledger entry goes regardless: a record we failed to release is
	// picked up by the next reconciliation sweep only if it still exists,
	// so keep it when the OS-level release failed.
	if len(errs) == 0 {
		if err := m.ledger.Remove(rec.LedgerID()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ReconcileOrphans is the crash-recovery sweep: it attempts to release every
// ledgered snapshot regardless of which process created it, clearing entries
// that release successfully. Entries whose OS resource is already gone count
// as released.
func (m *Manager) ReconcileOrphans() error {
	records, err := m.ledger.List()
	if err != nil {
		return fmt.Errorf("ReconcileOrphans: error listing snapshot ledger -> %w", err)
	}

	var g errgroup.Group
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if rec.JunctionPath != "" {
				if err := m.provider.DeleteJunction(rec.JunctionPath); err != nil {
					syslog.L.Warn().
						WithMessage("orphan junction removal failed").
						WithField("junction", rec.JunctionPath).
						Write()
				}
			}

			err := m.provider.DeleteSnapshot(rec.ShadowID)
			if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("ReconcileOrphans: error releasing %s -> %w", rec.ShadowID, err)
			}

			if err := m.ledger.Remove(rec.LedgerID()); err != nil {
				return err
			}

			syslog.L.Info().
				WithMessage("released orphaned snapshot").
				WithField("shadow_id", rec.ShadowID.String()).
				Write()
			return nil
		})
	}

	return g.Wait()
}

// Active returns the ledgered snapshot records.
func (m *Manager) Active() ([]Record, error) {
	return m.ledger.List()
}

// Remap translates a path on the snapshotted volume into the snapshot's
// path space. Paths outside the volume are returned unchanged.
func (r *Record) Remap(path string) string {
	base := r.SnapshotPath
	if r.JunctionPath != "" {
		base = r.JunctionPath
	}

	if !strings.HasPrefix(strings.ToUpper(path), strings.ToUpper(r.SourceVolume)) {
		return path
	}
	return base + path[len(r.SourceVolume):]
}

func (m *Manager) teardown(rec Record) {
	if rec.JunctionPath != "" {
		_ = m.provider.DeleteJunction(rec.JunctionPath)
	}
	_ = m.provider.DeleteSnapshot(rec.ShadowID)
}
