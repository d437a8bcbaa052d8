package session

import "fmt"

// State is the connection state of a session.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
)

var stateNames = []string{"closed", "connecting", "authenticating", "ready", "closing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Supervision is the reconnection supervisor's state.
type Supervision int

const (
	SupervisorIdle Supervision = iota
	SupervisorConnected
	SupervisorReconnecting
	// SupervisorFailed means automatic recovery is exhausted; only Reconnect
	// or SetToken leave it.
	SupervisorFailed
)

func (s Supervision) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorConnected:
		return "connected"
	case SupervisorReconnecting:
		return "reconnecting"
	case SupervisorFailed:
		return "failed"
	default:
		return fmt.Sprintf("supervision(%d)", int(s))
	}
}

// Status is a point-in-time view of the session's lifecycle.
type Status struct {
	State      State
	Supervisor Supervision
	Attempt    int // reconnect attempt, 0 once authenticated
	Queued     int // requests waiting for Ready
	AuthFailed bool
	LastError  error
}

// EventKind identifies an observer notification.
type EventKind string

const (
	EventState      EventKind = "state"
	EventTree       EventKind = "tree"
	EventFile       EventKind = "file"
	EventStream     EventKind = "stream"
	EventStatus     EventKind = "status"
	EventTerminal   EventKind = "terminal"
	EventError      EventKind = "error"
	EventAuthFailed EventKind = "auth_failed"
)

// Event notifies observers that a slice of session state changed. Observers
// read the new state through the session's accessors.
type Event struct {
	Kind  EventKind
	Path  string // EventFile, EventStream
	State State  // EventState
	Text  string // EventTerminal output, EventError message
	// IsError marks terminal_error output.
	IsError bool
	Err     error
}
