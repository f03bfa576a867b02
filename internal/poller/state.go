package poller

import "github.com/tnunamak/clawtray/internal/api"

type State int

const (
	Idle State = iota
	Running
	// Stopping means the loop was cancelled but its goroutine has not
	// reported back yet. A Start received now is deferred until it has.
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

type Event int

const (
	EventStateChanged Event = iota
	EventUsageUpdated
	EventLoginStarted
	EventLoginFailed
	// EventSessionEnded is sent when a poll fails. The credential has been
	// dropped and the user must log in again.
	EventSessionEnded
)

func (e Event) String() string {
	switch e {
	case EventUsageUpdated:
		return "usage_updated"
	case EventLoginStarted:
		return "login_started"
	case EventLoginFailed:
		return "login_failed"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "state_changed"
	}
}

// View is the read model handed to the UI.
type View struct {
	LoggedIn      bool
	State         State
	LoginInFlight bool
	FiveHour      float64
	SevenDay      float64
	Snapshot      *api.Snapshot
	LastError     string
}

type Update struct {
	Event Event
	View  View
	Err   error
}
