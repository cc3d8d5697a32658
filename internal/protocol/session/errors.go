package session

import (
	"errors"
	"fmt"
)

var (
	ErrConnectorRequired = errors.New("session: connector required")
	ErrAlreadyConnecting = errors.New("session: already connecting")
	ErrAlreadyRunning    = errors.New("session: already running")
	ErrDisconnecting     = errors.New("session: disconnect in progress")
	ErrNotRunning        = errors.New("session: not running")
	ErrQueueFull         = errors.New("session: outgoing queue full")
	ErrDisconnected      = errors.New("session: disconnected")
	ErrConnectTimeout    = errors.New("session: connect timeout")
)

// StateError reports an operation attempted from the wrong lifecycle state.
type StateError struct {
	Op    string
	State State
	err   error
}

func newStateError(op string, state State) *StateError {
	var err error
	switch state {
	case StateConnecting:
		err = ErrAlreadyConnecting
	case StateRunning:
		err = ErrAlreadyRunning
	case StateDisconnecting:
		err = ErrDisconnecting
	default:
		err = fmt.Errorf("session: unexpected state %s", state)
	}
	return &StateError{Op: op, State: state, err: err}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (state=%s)", e.Op, e.err, e.State)
}

func (e *StateError) Unwrap() error {
	return e.err
}

// ConnectError is returned by Connect and Accept when no connection was established.
// The session is idle again when the caller sees it.
type ConnectError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("session: %s %q: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt ran out of time.
func (e *ConnectError) Timeout() bool {
	return errors.Is(e.Err, ErrConnectTimeout)
}

// Origin names the task that observed a transport failure.
type Origin string

const (
	OriginReader Origin = "reader"
	OriginWriter Origin = "writer"
)

// TransportError is an I/O failure that ended a running connection.
type TransportError struct {
	Origin Origin
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Origin, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DisconnectError means teardown itself did not complete cleanly.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("session: teardown: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}
