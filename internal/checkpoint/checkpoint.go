package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Checkpoint captures enough state to resume a run without reprocessing
// completed chunks. Chunk ids are deterministic functions of path and plan
// parameters, so a resumed run re-plans and filters by id.
type Checkpoint struct {
	Profile         string    `json:"profile"`
	CompletedChunks []string  `json:"completed_chunks"`
	MaxChunkBytes   int64     `json:"max_chunk_bytes"`
	MaxChunkFiles   int64     `json:"max_chunk_files"`
	Phase           string    `json:"phase"`
	SavedAt         time.Time `json:"saved_at"`
}

// Matches reports whether the checkpoint was taken with the same plan
// parameters. A mismatch means the old chunk ids are meaningless and the
// run must start fresh.
func (c *Checkpoint) Matches(maxBytes, maxFiles int64) bool {
	return c.MaxChunkBytes == maxBytes && c.MaxChunkFiles == maxFiles
}

// CompletedSet returns the completed chunk ids as a lookup set.
func (c *Checkpoint) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(c.CompletedChunks))
	for _, id := range c.CompletedChunks {
		set[id] = true
	}
	return set
}

// Store persists one checkpoint file per profile, atomically rewritten on
// every save so a partially written checkpoint is never observable.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("NewStore: error creating checkpoint directory -> %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(profile string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, profile)
	name := fmt.Sprintf("%s-%08x.checkpoint.json", slug, uint32(xxh3.HashString(profile)))
	return filepath.Join(s.dir, name)
}

// Save atomically persists the checkpoint for its profile.
func (s *Store) Save(cp Checkpoint) error {
	if cp.Profile == "" {
		return fmt.Errorf("Save: checkpoint has no profile")
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("Save: error marshaling checkpoint -> %w", err)
	}

	path := s.pathFor(cp.Profile)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("Save: error creating temp checkpoint -> %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("Save: error writing temp checkpoint -> %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("Save: error syncing temp checkpoint -> %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("Save: error closing temp checkpoint -> %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("Save: error renaming checkpoint -> %w", err)
	}
	return nil
}

// Load returns the last saved checkpoint for the profile, or nil when none
// exists. A malformed checkpoint is treated as absent: resuming is an
// optimization, never a correctness requirement.
func (s *Store) Load(profile string) (*Checkpoint, error) {
	raw, err := os.ReadFile(s.pathFor(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("Load: error reading checkpoint -> %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

// Clear removes the profile's checkpoint. Clearing an absent checkpoint is
// a no-op.
func (s *Store) Clear(profile string) error {
	err := os.Remove(s.pathFor(profile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Clear: error removing checkpoint -> %w", err)
	}
	return nil
}
