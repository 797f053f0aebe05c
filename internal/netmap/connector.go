package netmap

// Connector is the narrow interface to the OS network redirector. The
// manager owns drive letter selection and tracking; the connector only
// establishes and tears down connections.
type Connector interface {
	// Connect maps remote onto drive using cred. A drive that is taken by
	// the time the OS processes the request must surface ErrDriveConflict.
	Connect(drive DriveLetter, remote UNCPath, cred *Credential) error
	// Disconnect removes the mapping. Unknown drives must return
	// ErrMappingNotFound so unmapping stays idempotent.
	Disconnect(drive DriveLetter, force bool) error
	// InUse reports whether the drive letter is taken, mapped or local.
	InUse(drive DriveLetter) bool
}
