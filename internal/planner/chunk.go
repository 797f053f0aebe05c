package planner

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Status tracks a chunk through its lifecycle. Transitions are monotonic in
// attempt count: Pending -> Running -> {Succeeded, Failed}, with Failed
// optionally re-enqueued as Pending by the retry policy.
type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	Skipped
)

var statusNames = [...]string{
	Pending:   "pending",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
	Skipped:   "skipped",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further work will happen for this status.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// Chunk is a bounded unit of copy work: one directory, copied either with or
// without its subtree. Identity is immutable once created; only Status and
// Attempts mutate, and only under the job manager's lock.
type Chunk struct {
	ID      string
	Scope   string
	RelPath string
	Source  string
	Dest    string

	// Recurse selects subtree copy; a non-recursive chunk covers only the
	// directory's direct files, its subdirectories being chunked separately.
	Recurse bool

	EstBytes int64
	EstFiles int64

	Status   Status
	Attempts int
}

// chunkID derives a chunk's identity deterministically from its relative
// path, copy mode, and the plan thresholds, so a resumed run re-planning the
// same tree with the same parameters reproduces the same ids.
func chunkID(relPath string, recurse bool, maxBytes, maxFiles int64) string {
	seed := fmt.Sprintf("%s|%t|%d|%d", relPath, recurse, maxBytes, maxFiles)
	return fmt.Sprintf("%016x", xxh3.HashString(seed))
}
