package netmap

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoFreeDrive      = errors.New("no free drive letter available")
	ErrDriveConflict    = errors.New("drive letter already in use")
	ErrInvalidDrive     = errors.New("invalid drive letter")
	ErrInvalidUNC       = errors.New("invalid unc path")
	ErrMappingNotFound  = errors.New("drive mapping not found")
	ErrUnsupported      = errors.New("drive mapping not supported on this platform")
	ErrCredentialFormat = errors.New("malformed stored credential")
)

// DriveLetter is a validated mapped-drive name in "Z:" form.
type DriveLetter string

func ParseDriveLetter(s string) (DriveLetter, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), `\`))
	if len(s) != 2 || s[1] != ':' {
		return "", fmt.Errorf("ParseDriveLetter: %q -> %w", s, ErrInvalidDrive)
	}
	c := s[0]
	if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
		return "", fmt.Errorf("ParseDriveLetter: %q -> %w", s, ErrInvalidDrive)
	}
	return DriveLetter(strings.ToUpper(s)), nil
}

func (d DriveLetter) String() string { return string(d) }

// Root is the drive's root directory, e.g. `Z:\`.
func (d DriveLetter) Root() string { return string(d) + `\` }

// UNCPath is a validated `\\host\share[\...]` path.
type UNCPath string

func ParseUNCPath(s string) (UNCPath, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), `\`))
	if !strings.HasPrefix(s, `\\`) {
		return "", fmt.Errorf("ParseUNCPath: %q -> %w", s, ErrInvalidUNC)
	}
	parts := strings.Split(strings.TrimPrefix(s, `\\`), `\`)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("ParseUNCPath: %q -> %w", s, ErrInvalidUNC)
	}
	return UNCPath(s), nil
}

func (u UNCPath) String() string { return string(u) }

// ShareRoot strips any path below the share, leaving `\\host\share`.
func (u UNCPath) ShareRoot() UNCPath {
	parts := strings.Split(strings.TrimPrefix(string(u), `\\`), `\`)
	return UNCPath(`\\` + parts[0] + `\` + parts[1])
}

// MappingRecord identifies one live drive mapping. Like snapshot records it
// is ledgered before the mapping counts as established, so a crashed run's
// mappings are found and torn down by the next reconciliation sweep.
type MappingRecord struct {
	Drive     DriveLetter `json:"drive"`
	Remote    UNCPath     `json:"remote"`
	Username  string      `json:"username,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (r MappingRecord) LedgerID() string { return string(r.Drive) }

// Remap translates a UNC path under the mapping's remote root into the
// mapped drive's path space. Paths outside the root are returned unchanged.
func (r MappingRecord) Remap(path string) string {
	root := string(r.Remote)
	if len(path) < len(root) || !strings.EqualFold(path[:len(root)], root) {
		return path
	}
	return string(r.Drive) + path[len(root):]
}
