package orchestrator

// Phase is the orchestration state machine's position. Transitions are
// linear through the happy path; Stop is legal from any non-terminal phase
// and routes through Stopping to Stopped.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseProfiling
	PhaseChunking
	PhaseAcquiring
	PhaseCopying
	PhaseStopping
	PhaseCompleted
	PhaseFailed
	PhaseStopped
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseProfiling: "profiling",
	PhaseChunking:  "chunking",
	PhaseAcquiring: "acquiring",
	PhaseCopying:   "copying",
	PhaseStopping:  "stopping",
	PhaseCompleted: "completed",
	PhaseFailed:    "failed",
	PhaseStopped:   "stopped",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Terminal reports whether the run is over.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseStopped
}
