package netmap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sonroyaalmerol/sharesync/internal/ledger"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/utils"
)

const (
	mapRetryInitial = 500 * time.Millisecond
	mapRetryMax     = 5 * time.Second
	mapAttempts     = 4
)

// Manager owns drive mapping lifecycle for a run: letter selection,
// establishment, teardown, and crash-recovery reconciliation. Letters are
// probed from Z: downward; a letter that is grabbed between the probe and
// the connect is retried with the next free one.
type Manager struct {
	connector Connector
	ledger    *ledger.Ledger[MappingRecord]
}

func NewManager(connector Connector, trackingDir string) (*Manager, error) {
	led, err := ledger.New[MappingRecord](filepath.Join(trackingDir, "mappings.json"))
	if err != nil {
		return nil, fmt.Errorf("NewManager: error opening mapping ledger -> %w", err)
	}
	return &Manager{connector: connector, ledger: led}, nil
}

// Map establishes a drive mapping for remote and returns its record. The
// ledger entry is durable before the record is handed out.
func (m *Manager) Map(ctx context.Context, remote UNCPath, cred *Credential) (*MappingRecord, error) {
	backoff := utils.NewExponentialBackoff(mapRetryInitial, mapRetryMax)

	for attempt := 0; attempt < mapAttempts; attempt++ {
		drive, err := m.freeDrive()
		if err != nil {
			return nil, fmt.Errorf("Map: %w", err)
		}

		err = m.connector.Connect(drive, remote, cred)
		if err == nil {
			rec := MappingRecord{
				Drive:     drive,
				Remote:    remote,
				CreatedAt: time.Now(),
			}
			if cred != nil {
				rec.Username = cred.Username
			}

			if err := m.ledger.Append(rec); err != nil {
				_ = m.connector.Disconnect(drive, true)
				return nil, fmt.Errorf("Map: error persisting mapping record -> %w", err)
			}
			return &rec, nil
		}

		if !errors.Is(err, ErrDriveConflict) {
			return nil, fmt.Errorf("Map: error mapping %s -> %w", remote, err)
		}

		syslog.L.Warn().
			WithMessage("drive letter taken, retrying with next free letter").
			WithField("drive", drive.String()).
			Write()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("Map: %w", ctx.Err())
		case <-time.After(backoff.NextBackOff()):
		}
	}

	return nil, fmt.Errorf("Map: exhausted retries mapping %s -> %w", remote, ErrDriveConflict)
}

func (m *Manager) freeDrive() (DriveLetter, error) {
	// High letters first; low ones are usually local disks.
	for c := byte('Z'); c >= 'D'; c-- {
		drive := DriveLetter(string(c) + ":")
		if !m.connector.InUse(drive) {
			return drive, nil
		}
	}
	return "", ErrNoFreeDrive
}

// Unmap disconnects the mapping and clears its ledger entry. Unmapping an
// already-gone mapping is a no-op.
func (m *Manager) Unmap(rec *MappingRecord, force bool) error {
	if rec == nil {
		return nil
	}

	err := m.connector.Disconnect(rec.Drive, force)
	if err != nil && !errors.Is(err, ErrMappingNotFound) {
		return fmt.Errorf("Unmap: error disconnecting %s -> %w", rec.Drive, err)
	}

	if err := m.ledger.Remove(rec.LedgerID()); err != nil {
		return fmt.Errorf("Unmap: error clearing mapping record -> %w", err)
	}
	return nil
}

// ReconcileOrphans force-disconnects every ledgered mapping. It runs before
// a new orchestration so a crashed run's drives are returned to the pool.
func (m *Manager) ReconcileOrphans() error {
	records, err := m.ledger.List()
	if err != nil {
		return fmt.Errorf("ReconcileOrphans: error listing mapping ledger -> %w", err)
	}

	var errs []error
	for _, rec := range records {
		if err := m.Unmap(&rec, true); err != nil {
			errs = append(errs, err)
			continue
		}
		syslog.L.Info().
			WithMessage("released orphaned drive mapping").
			WithField("drive", rec.Drive.String()).
			WithField("remote", rec.Remote.String()).
			Write()
	}

	return errors.Join(errs...)
}

// Active returns the ledgered mapping records.
func (m *Manager) Active() ([]MappingRecord, error) {
	return m.ledger.List()
}
