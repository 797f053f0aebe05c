package progress

import (
	"sync/atomic"
	"time"
)

// Collector tracks run statistics using lock-free atomic counters. It doubles
// as a Sink so it can be fed straight from the publisher.
type Collector struct {
	chunksSucceeded atomic.Int64
	chunksFailed    atomic.Int64
	chunksSkipped   atomic.Int64
	chunksRetried   atomic.Int64
	bytesCopied     atomic.Int64
	filesCopied     atomic.Int64
	startTime       time.Time
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	ChunksSucceeded int64
	ChunksFailed    int64
	ChunksSkipped   int64
	ChunksRetried   int64
	BytesCopied     int64
	FilesCopied     int64
	Elapsed         time.Duration
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) Handle(ev Event) {
	switch ev.Type {
	case ChunkCompleted:
		c.chunksSucceeded.Add(1)
		c.bytesCopied.Add(ev.Bytes)
		c.filesCopied.Add(ev.Files)
	case ChunkFailed:
		c.chunksFailed.Add(1)
	case ChunkRetried:
		c.chunksRetried.Add(1)
	case ChunkSkipped:
		c.chunksSkipped.Add(1)
	}
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		ChunksSucceeded: c.chunksSucceeded.Load(),
		ChunksFailed:    c.chunksFailed.Load(),
		ChunksSkipped:   c.chunksSkipped.Load(),
		ChunksRetried:   c.chunksRetried.Load(),
		BytesCopied:     c.bytesCopied.Load(),
		FilesCopied:     c.filesCopied.Load(),
		Elapsed:         time.Since(c.startTime),
	}
}
