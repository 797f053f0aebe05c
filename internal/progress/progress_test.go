package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPublisherDeliversToSinks(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher(sink)

	p.Publish(Event{Type: ChunkStarted, ChunkID: "c1"})
	p.Publish(Event{Type: ChunkCompleted, ChunkID: "c1", Bytes: 10, Files: 2})
	p.Close()

	require.Equal(t, 2, sink.count())
	assert.Equal(t, ChunkStarted, sink.events[0].Type)
	assert.False(t, sink.events[0].Timestamp.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	// A sink that never returns would deadlock a blocking publisher.
	stuck := make(chan struct{})
	p := NewPublisher(sinkFunc(func(Event) { <-stuck }))
	defer close(stuck)

	done := make(chan struct{})
	go func() {
		for i := 0; i < publishBuffer*4; i++ {
			p.Publish(Event{Type: ChunkStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stuck sink")
	}
}

type sinkFunc func(Event)

func (f sinkFunc) Handle(ev Event) { f(ev) }

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.Handle(Event{Type: ChunkCompleted, Bytes: 100, Files: 5})
	c.Handle(Event{Type: ChunkCompleted, Bytes: 50, Files: 1})
	c.Handle(Event{Type: ChunkFailed})
	c.Handle(Event{Type: ChunkRetried})
	c.Handle(Event{Type: ChunkSkipped})

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.ChunksSucceeded)
	assert.Equal(t, int64(1), snap.ChunksFailed)
	assert.Equal(t, int64(1), snap.ChunksSkipped)
	assert.Equal(t, int64(1), snap.ChunksRetried)
	assert.Equal(t, int64(150), snap.BytesCopied)
	assert.Equal(t, int64(6), snap.FilesCopied)
}
