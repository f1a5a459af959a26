package processor

// State is the lifecycle state of a Processor.
type State int32

const (
	// StateStopped means no poll loop is running.
	StateStopped State = iota

	// StateInitializing covers the synchronous full rebuild done by Start.
	StateInitializing

	// StatePolling means the loop is waiting for, or checking, the next tick.
	StatePolling

	// StateRebuilding means a tick found changes and is updating the cache
	// and notifying endpoints.
	StateRebuilding
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single synchronous notification.
type Result int

const (
	Success Result = iota
	Failure
)

// String returns "success" or "failure".
func (r Result) String() string {
	if r == Success {
		return "success"
	}
	return "failure"
}

// RebuildKind distinguishes full rebuilds from incremental ones.
type RebuildKind string

const (
	RebuildFull        RebuildKind = "full"
	RebuildIncremental RebuildKind = "incremental"
)
