//go:build !windows

package netmap

// WNetConnector only works on Windows; elsewhere every operation reports
// ErrUnsupported.
type WNetConnector struct{}

func NewWNetConnector() *WNetConnector {
	return &WNetConnector{}
}

func (c *WNetConnector) Connect(drive DriveLetter, remote UNCPath, cred *Credential) error {
	return ErrUnsupported
}

func (c *WNetConnector) Disconnect(drive DriveLetter, force bool) error {
	return ErrUnsupported
}

func (c *WNetConnector) InUse(drive DriveLetter) bool {
	return true
}
