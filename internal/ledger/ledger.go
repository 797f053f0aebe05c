package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alexflint/go-filemutex"

	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

// Record is anything that can live in a ledger. The ID must be stable for
// the lifetime of the tracked resource; Remove matches on it.
type Record interface {
	LedgerID() string
}

// Ledger is a durable list of currently-held external resource records,
// backed by an atomically rewritten JSON array file. Both the snapshot and
// the drive-mapping managers use one of these, so both get identical
// durability and corruption-tolerance guarantees.
//
// Every mutation is flushed to disk before returning; the in-memory record
// is only considered valid once its ledger entry is durable.
type Ledger[T Record] struct {
	path string

	mu sync.Mutex
	fm *filemutex.FileMutex
}

// New opens (or creates) the ledger file at path. A sibling lock file
// serializes access across processes.
func New[T Record](path string) (*Ledger[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("New: error creating ledger directory -> %w", err)
	}

	fm, err := filemutex.New(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("New: error creating ledger lock -> %w", err)
	}

	return &Ledger[T]{path: path, fm: fm}, nil
}

// Path returns the backing file path.
func (l *Ledger[T]) Path() string {
	return l.path
}

// Append adds a record, replacing any existing record with the same ID.
// The write is durable before Append returns.
func (l *Ledger[T]) Append(rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fm.Lock(); err != nil {
		return fmt.Errorf("Append: error locking ledger -> %w", err)
	}
	defer l.fm.Unlock()

	records := l.readLocked()
	out := make([]T, 0, len(records)+1)
	for _, r := range records {
		if r.LedgerID() != rec.LedgerID() {
			out = append(out, r)
		}
	}
	out = append(out, rec)

	return l.writeLocked(out)
}

// Remove deletes the record with the given ID. Removing an unknown ID is a
// no-op, not an error.
func (l *Ledger[T]) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fm.Lock(); err != nil {
		return fmt.Errorf("Remove: error locking ledger -> %w", err)
	}
	defer l.fm.Unlock()

	records := l.readLocked()
	out := make([]T, 0, len(records))
	removed := false
	for _, r := range records {
		if r.LedgerID() == id {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if !removed {
		return nil
	}

	return l.writeLocked(out)
}

// List returns every record currently in the ledger.
func (l *Ledger[T]) List() ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fm.Lock(); err != nil {
		return nil, fmt.Errorf("List: error locking ledger -> %w", err)
	}
	defer l.fm.Unlock()

	return l.readLocked(), nil
}

// readLocked parses the ledger file. A missing or malformed file is treated
// as empty: losing crash-recovery tracking must never block a new run.
func (l *Ledger[T]) readLocked() []T {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			syslog.L.Error(err).
				WithMessage("ledger unreadable, treating as empty").
				WithField("path", l.path).
				Write()
		}
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		syslog.L.Error(err).
			WithMessage("ledger malformed, treating as empty").
			WithField("path", l.path).
			Write()
		return nil
	}
	return records
}

// writeLocked atomically rewrites the ledger file: write to a temp file in
// the same directory, flush, then rename over the old file. A partially
// written ledger is never observable.
func (l *Ledger[T]) writeLocked(records []T) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("writeLocked: error marshaling ledger -> %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writeLocked: error creating temp ledger -> %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writeLocked: error writing temp ledger -> %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writeLocked: error syncing temp ledger -> %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writeLocked: error closing temp ledger -> %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writeLocked: error renaming ledger -> %w", err)
	}
	return nil
}
