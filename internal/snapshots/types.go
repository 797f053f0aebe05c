package snapshots

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrSnapshotTimeout  = errors.New("timeout waiting for in-progress snapshot")
	ErrSnapshotCreation = errors.New("failed to create snapshot")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidShadowID  = errors.New("invalid shadow copy id")
	ErrUnsupported      = errors.New("snapshots not supported on this platform")
)

var shadowIDPattern = regexp.MustCompile(`^\{[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\}$`)

// ShadowID is a validated shadow copy identifier in registry GUID form,
// e.g. {3f4a1b2c-0d5e-4f6a-8b7c-9d0e1f2a3b4c}. Validation happens at
// construction so use sites never deal with free-form strings.
type ShadowID string

func ParseShadowID(s string) (ShadowID, error) {
	s = strings.TrimSpace(s)
	if !shadowIDPattern.MatchString(s) {
		return "", fmt.Errorf("ParseShadowID: %q -> %w", s, ErrInvalidShadowID)
	}
	return ShadowID(strings.ToLower(s)), nil
}

func (id ShadowID) String() string { return string(id) }

// Record identifies one live snapshot. It is persisted to the tracking
// ledger on creation and removed on release; the ledger, not the in-memory
// record, is the durable source of truth for crash recovery.
type Record struct {
	ShadowID     ShadowID  `json:"shadow_id"`
	SourceVolume string    `json:"source_volume"`
	SnapshotPath string    `json:"snapshot_path"`
	JunctionPath string    `json:"junction_path,omitempty"`
	Remote       bool      `json:"remote"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r Record) LedgerID() string { return string(r.ShadowID) }

// VolumeOf reduces a path to the unit a snapshot covers: the drive for a
// local path ("C:"), the share root for a UNC path ("\\host\share").
func VolumeOf(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("VolumeOf: empty path")
	}

	if strings.HasPrefix(path, `\\`) {
		parts := strings.Split(strings.TrimPrefix(path, `\\`), `\`)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("VolumeOf: %q is not a valid UNC path", path)
		}
		return `\\` + parts[0] + `\` + parts[1], nil
	}

	if len(path) >= 2 && path[1] == ':' {
		drive := path[0]
		if (drive >= 'A' && drive <= 'Z') || (drive >= 'a' && drive <= 'z') {
			return strings.ToUpper(path[:1]) + ":", nil
		}
	}

	return "", fmt.Errorf("VolumeOf: cannot derive volume from %q", path)
}
