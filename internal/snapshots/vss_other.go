//go:build !windows

package snapshots

import "context"

// VSSProvider is only functional on Windows; elsewhere every operation
// reports ErrUnsupported so callers can degrade to snapshot-less runs.
type VSSProvider struct{}

func NewVSSProvider() (*VSSProvider, error) {
	return &VSSProvider{}, nil
}

func (p *VSSProvider) CreateSnapshot(ctx context.Context, volume string) (ShadowID, string, error) {
	return "", "", ErrUnsupported
}

func (p *VSSProvider) DeleteSnapshot(id ShadowID) error {
	return ErrUnsupported
}

func (p *VSSProvider) CreateJunction(remoteRoot string, snapshotPath string) (string, error) {
	return "", ErrUnsupported
}

func (p *VSSProvider) DeleteJunction(junctionPath string) error {
	return ErrUnsupported
}
