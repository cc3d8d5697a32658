package session

import "fmt"

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
