package progress

import "time"

// Type identifies the kind of progress event.
type Type int

const (
	PhaseChanged Type = iota + 1
	ChunkStarted
	ChunkCompleted
	ChunkFailed
	ChunkRetried
	ChunkSkipped
)

var typeNames = [...]string{
	PhaseChanged:   "PhaseChanged",
	ChunkStarted:   "ChunkStarted",
	ChunkCompleted: "ChunkCompleted",
	ChunkFailed:    "ChunkFailed",
	ChunkRetried:   "ChunkRetried",
	ChunkSkipped:   "ChunkSkipped",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single progress report from the orchestration core. Consumers
// (logging, GUI, reporting) receive these asynchronously; the core never
// depends on their availability.
type Event struct {
	Type      Type
	Timestamp time.Time
	ChunkID   string
	Scope     string
	Phase     string
	Bytes     int64 // bytes copied by the chunk (terminal events)
	Files     int64 // files copied by the chunk (terminal events)
	Remaining int   // chunks not yet terminal
	Attempt   int
	Err       error
}

// Sink consumes progress events. Implementations must be fast or buffer
// internally; the publisher drops events rather than block the job manager.
type Sink interface {
	Handle(Event)
}
