package planner

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/sonroyaalmerol/sharesync/internal/profiler"
)

// Params are the inputs that, together with the profiled tree, fully
// determine the plan. Identical Params and profiler output produce an
// identical chunk id sequence.
type Params struct {
	SourceRoot string
	DestRoot   string
	Scope      string
	MaxBytes   int64
	MaxFiles   int64
}

// Plan is an ordered set of chunks partitioning the profiled tree. Larger
// chunks come first (longest-processing-time-first) to reduce tail latency
// under a fixed worker pool.
type Plan struct {
	Chunks     []*Chunk
	TotalBytes int64
	TotalFiles int64
}

type node struct {
	stats    profiler.DirStats
	children []*node
}

// Build partitions the profiled tree into chunks. Every file is covered by
// exactly one chunk: a subtree that fits under both thresholds becomes one
// recursive chunk; an oversized directory is descended into, its direct
// files forming a non-recursive chunk and each child subtree planned
// independently. A directory with no subdirectories is irreducible and
// becomes its own chunk even when over threshold.
func Build(stats []profiler.DirStats, params Params) (*Plan, error) {
	if params.MaxBytes < 1 || params.MaxFiles < 1 {
		return nil, fmt.Errorf("Build: thresholds must be positive, got bytes=%d files=%d",
			params.MaxBytes, params.MaxFiles)
	}

	root := buildTree(stats)
	if root == nil {
		return nil, fmt.Errorf("Build: profiler produced no directories")
	}

	plan := &Plan{
		TotalBytes: root.stats.CumBytes,
		TotalFiles: root.stats.CumFiles,
	}
	if err := plan.planNode(root, params); err != nil {
		return nil, err
	}

	// Longest-processing-time-first, with a total tiebreak so the order is
	// reproducible across runs.
	sort.SliceStable(plan.Chunks, func(i, j int) bool {
		a, b := plan.Chunks[i], plan.Chunks[j]
		if a.EstBytes != b.EstBytes {
			return a.EstBytes > b.EstBytes
		}
		if a.EstFiles != b.EstFiles {
			return a.EstFiles > b.EstFiles
		}
		return a.RelPath < b.RelPath
	})

	return plan, nil
}

// buildTree reassembles the directory tree from the profiler's post-order
// stream. Children arrive before their parent, so parent links can only be
// made once every node exists.
func buildTree(stats []profiler.DirStats) *node {
	nodes := make(map[string]*node, len(stats))
	var root *node

	for _, s := range stats {
		n := &node{stats: s}
		nodes[s.RelPath] = n
		if s.RelPath == "." {
			root = n
		}
	}

	for rel, n := range nodes {
		if rel == "." {
			continue
		}
		if parent, ok := nodes[path.Dir(rel)]; ok {
			parent.children = append(parent.children, n)
		}
	}

	// Map iteration order is random; sort children so planning and chunk
	// ordering are reproducible.
	for _, n := range nodes {
		sort.Slice(n.children, func(i, j int) bool {
			return n.children[i].stats.RelPath < n.children[j].stats.RelPath
		})
	}

	return root
}

func (p *Plan) planNode(n *node, params Params) error {
	if n.stats.Unreadable {
		// Zero weight, nothing plannable; already reported by the profiler.
		return nil
	}

	fits := n.stats.CumBytes <= params.MaxBytes && n.stats.CumFiles <= params.MaxFiles
	if fits || len(n.children) == 0 {
		chunk, err := newChunk(n.stats, true, n.stats.CumBytes, n.stats.CumFiles, params)
		if err != nil {
			return err
		}
		p.Chunks = append(p.Chunks, chunk)
		return nil
	}

	// Over threshold and divisible: the directory's own files stay together
	// (a directory is never split), each child subtree planned on its own.
	if n.stats.DirectFiles > 0 {
		chunk, err := newChunk(n.stats, false, n.stats.DirectBytes, n.stats.DirectFiles, params)
		if err != nil {
			return err
		}
		p.Chunks = append(p.Chunks, chunk)
	}

	for _, child := range n.children {
		if err := p.planNode(child, params); err != nil {
			return err
		}
	}
	return nil
}

func newChunk(stats profiler.DirStats, recurse bool, bytes, files int64, params Params) (*Chunk, error) {
	dest, err := securejoin.SecureJoin(params.DestRoot, filepath.FromSlash(stats.RelPath))
	if err != nil {
		return nil, fmt.Errorf("newChunk: error joining destination for %q -> %w", stats.RelPath, err)
	}

	return &Chunk{
		ID:       chunkID(stats.RelPath, recurse, params.MaxBytes, params.MaxFiles),
		Scope:    params.Scope,
		RelPath:  stats.RelPath,
		Source:   stats.Path,
		Dest:     dest,
		Recurse:  recurse,
		EstBytes: bytes,
		EstFiles: files,
		Status:   Pending,
	}, nil
}

// Filter returns the plan's chunks minus those whose ids appear in done,
// marking the dropped ones Succeeded. Used on checkpoint resume.
func (p *Plan) Filter(done map[string]bool) []*Chunk {
	remaining := make([]*Chunk, 0, len(p.Chunks))
	for _, c := range p.Chunks {
		if done[c.ID] {
			c.Status = Succeeded
			continue
		}
		remaining = append(remaining, c)
	}
	return remaining
}
