// Package supervisor manages the lifecycle of the worker process.
package supervisor

// State represents the current state of the supervised worker.
type State int

const (
	// StateNotStarted is the initial state before Start.
	StateNotStarted State = iota

	// StateRunning indicates the worker process is alive.
	StateRunning

	// StateFinished indicates the worker exited with code 0.
	StateFinished

	// StateFailed indicates the worker exited non-zero or could not be launched.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Finished and Failed. Terminal states are absorbing.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}
