//go:build windows

package snapshots

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mxk/go-vss"
)

// VSSProvider drives the Volume Shadow Copy service through go-vss. Each
// snapshot is exposed through a link directory so workers see a normal
// filesystem path instead of a shadow device object.
type VSSProvider struct {
	linkDir string
}

func NewVSSProvider() (*VSSProvider, error) {
	linkDir := filepath.Join(os.TempDir(), "sharesync-vss")
	if err := os.MkdirAll(linkDir, 0750); err != nil {
		return nil, fmt.Errorf("NewVSSProvider: failed to create link directory %q -> %w", linkDir, err)
	}
	return &VSSProvider{linkDir: linkDir}, nil
}

func (p *VSSProvider) CreateSnapshot(ctx context.Context, volume string) (ShadowID, string, error) {
	if strings.HasPrefix(volume, `\\`) {
		return "", "", fmt.Errorf("CreateSnapshot: %q is remote; snapshot it on its host and expose it via junction", volume)
	}

	linkPath := filepath.Join(p.linkDir, uuid.New().String())

	if err := vss.CreateLink(linkPath, volume); err != nil {
		p.cleanupLink(linkPath)
		return "", "", fmt.Errorf("CreateSnapshot: %w -> %v", ErrSnapshotCreation, err)
	}

	sc, err := vss.Get(linkPath)
	if err != nil {
		p.cleanupLink(linkPath)
		return "", "", fmt.Errorf("CreateSnapshot: snapshot validation failed -> %w", err)
	}

	id, err := ParseShadowID(sc.ID)
	if err != nil {
		_ = vss.Remove(sc.ID)
		p.cleanupLink(linkPath)
		return "", "", fmt.Errorf("CreateSnapshot: %w", err)
	}

	return id, linkPath, nil
}

func (p *VSSProvider) DeleteSnapshot(id ShadowID) error {
	if err := vss.Remove(string(id)); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("DeleteSnapshot: failed to delete %s -> %w", id, err)
	}
	return nil
}

// CreateJunction exposes a snapshot through a directory junction under the
// remote root, so the snapshot contents are reachable over the share.
func (p *VSSProvider) CreateJunction(remoteRoot string, snapshotPath string) (string, error) {
	junction := filepath.Join(remoteRoot, ".sharesync-snap-"+uuid.New().String()[:8])

	out, err := exec.Command("cmd", "/C", "mklink", "/J", junction, snapshotPath).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("CreateJunction: mklink failed -> %w: %s", err, strings.TrimSpace(string(out)))
	}
	return junction, nil
}

func (p *VSSProvider) DeleteJunction(junctionPath string) error {
	// rmdir removes the junction itself, never the target's contents.
	out, err := exec.Command("cmd", "/C", "rmdir", junctionPath).CombinedOutput()
	if err != nil {
		if _, statErr := os.Stat(junctionPath); os.IsNotExist(statErr) {
			return nil
		}
		return fmt.Errorf("DeleteJunction: rmdir failed -> %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (p *VSSProvider) cleanupLink(linkPath string) {
	if strings.HasPrefix(linkPath, p.linkDir) {
		_ = os.Remove(linkPath)
	}
}
