package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoveryExhausted is returned when every cycle has run without a
	// valid response. Callers should fall back to manual configuration.
	ErrDiscoveryExhausted = errors.New("discovery exhausted: no server responded")

	// ErrDiscoveryStopped is returned by Discover when the session is stopped
	// before reaching a terminal state.
	ErrDiscoveryStopped = errors.New("discovery stopped")

	// ErrProbeEcho marks a datagram that is our own probe looped back.
	ErrProbeEcho = errors.New("datagram is a discovery probe")
)

// SocketInitError is returned when the discovery socket cannot be created or
// bound. It is fatal for the session.
type SocketInitError struct {
	Port int   // Port the socket was being bound to
	Err  error // Underlying error
}

// Error implements the error interface
func (e *SocketInitError) Error() string {
	return fmt.Sprintf("discovery socket init failed on udp4 port %d: %v", e.Port, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *SocketInitError) Unwrap() error {
	return e.Err
}

// MalformedResponseError describes an inbound datagram that is not a valid
// discovery response.
type MalformedResponseError struct {
	Reason string // Short description of what was wrong
	Err    error  // Underlying decode error, if any
}

// Error implements the error interface
func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed discovery response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed discovery response: %s", e.Reason)
}

// Unwrap returns the underlying error for error chain inspection
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
