package snapshots

import "context"

// Provider is the narrow interface to the OS snapshot facility. The manager
// owns lifecycle and tracking; the provider only talks to the OS.
type Provider interface {
	// CreateSnapshot snapshots the volume and returns the shadow id plus
	// the local path under which the snapshot's contents are reachable.
	CreateSnapshot(ctx context.Context, volume string) (ShadowID, string, error)
	// DeleteSnapshot removes the snapshot. Deleting an unknown id must
	// return ErrSnapshotNotFound so release stays idempotent.
	DeleteSnapshot(id ShadowID) error
	// CreateJunction exposes a remote snapshot through a junction on the
	// remote host, returning the junction path.
	CreateJunction(remoteRoot string, snapshotPath string) (string, error)
	// DeleteJunction removes a previously created junction.
	DeleteJunction(junctionPath string) error
}
