package profiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

// DirStats describes one directory of the profiled tree. Cumulative figures
// cover the whole subtree; direct figures cover only the directory's own
// files. Stats are emitted post-order, children before their parent, so a
// consumer always sees a directory's subtree before the directory itself.
type DirStats struct {
	Path        string // absolute path
	RelPath     string // relative to the walk root, "." for the root
	Depth       int
	DirectBytes int64
	DirectFiles int64
	CumBytes    int64
	CumFiles    int64
	Unreadable  bool
	HasSubdirs  bool
}

// Profiler walks a source tree producing per-directory statistics. It is a
// pure read: no side effects on the tree.
type Profiler struct {
	excludes []glob.Glob
}

// New compiles the exclusion patterns. Patterns match against the
// slash-separated path relative to the walk root.
func New(excludes []string) (*Profiler, error) {
	p := &Profiler{}
	for _, pattern := range excludes {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("New: invalid exclude pattern %q -> %w", pattern, err)
		}
		p.excludes = append(p.excludes, g)
	}
	return p, nil
}

func (p *Profiler) excluded(relPath string) bool {
	candidate := filepath.ToSlash(relPath)
	for _, g := range p.excludes {
		if g.Match(candidate) {
			return true
		}
	}
	return false
}

// Walk streams statistics for every directory under root without holding the
// whole tree in memory. The channel is closed when the walk finishes or the
// context is cancelled. An unreadable subdirectory is reported as a
// zero-weight entry with Unreadable set rather than aborting the walk.
func (p *Profiler) Walk(ctx context.Context, root string) (<-chan DirStats, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("Walk: error reading root %q -> %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("Walk: root %q is not a directory", root)
	}

	out := make(chan DirStats)
	go func() {
		defer close(out)
		p.walkDir(ctx, root, root, 0, out)
	}()
	return out, nil
}

// walkDir recurses depth-first and returns the subtree's cumulative weight.
// Children are visited in sorted name order so repeated walks of an
// unchanged tree emit an identical sequence.
func (p *Profiler) walkDir(ctx context.Context, root, dir string, depth int, out chan<- DirStats) (int64, int64) {
	select {
	case <-ctx.Done():
		return 0, 0
	default:
	}

	relPath := relTo(root, dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		syslog.L.Warn().
			WithMessage("unreadable directory, recorded as zero-weight").
			WithField("path", dir).
			Write()
		p.emit(ctx, out, DirStats{
			Path:       dir,
			RelPath:    relPath,
			Depth:      depth,
			Unreadable: true,
		})
		return 0, 0
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	stats := DirStats{
		Path:    dir,
		RelPath: relPath,
		Depth:   depth,
	}

	for _, entry := range entries {
		childRel := relPath + "/" + entry.Name()
		if relPath == "." {
			childRel = entry.Name()
		}
		if p.excluded(childRel) {
			continue
		}

		if entry.IsDir() {
			stats.HasSubdirs = true
			childBytes, childFiles := p.walkDir(ctx, root, filepath.Join(dir, entry.Name()), depth+1, out)
			stats.CumBytes += childBytes
			stats.CumFiles += childFiles
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		stats.DirectBytes += info.Size()
		stats.DirectFiles++
	}

	stats.CumBytes += stats.DirectBytes
	stats.CumFiles += stats.DirectFiles

	p.emit(ctx, out, stats)
	return stats.CumBytes, stats.CumFiles
}

func (p *Profiler) emit(ctx context.Context, out chan<- DirStats, stats DirStats) {
	select {
	case out <- stats:
	case <-ctx.Done():
	}
}

func relTo(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}

// Collect drains a Walk stream into a slice, in emission order.
func Collect(ctx context.Context, stream <-chan DirStats) []DirStats {
	var all []DirStats
	for stats := range stream {
		all = append(all, stats)
	}
	if ctx.Err() != nil {
		return all
	}
	return all
}
