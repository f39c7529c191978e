package server

// State is the lifecycle state of a Server.
type State int

const (
	// StateInitialized means the server is created but not started.
	StateInitialized State = iota

	// StateStarting means Start has been called and listeners are binding.
	StateStarting

	// StateRunning means the server is accepting connections.
	StateRunning

	// StateStopping means Stop has been called and shutdown is in progress.
	StateStopping

	// StateStopped means the server has been shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart returns true if Start can be called in this state.
func (s State) CanStart() bool {
	return s == StateInitialized
}

// CanStop returns true if Stop can be called in this state.
func (s State) CanStop() bool {
	return s == StateStarting || s == StateRunning
}
