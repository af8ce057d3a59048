// Package printer owns the connection to the receipt printer: device
// selection, the session lifecycle state machine, and the chunked transport
// that delivers composed documents.
package printer

import (
	"errors"
	"fmt"
	"time"
)

// State is the connection lifecycle position. Transitions run
// Idle → Requesting → SessionOpen → Stabilizing → Discovering → Ready;
// a link loss moves Ready to Disconnected, from where Restore leads back to
// Ready and Disconnect back to Idle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateSessionOpen
	StateStabilizing
	StateDiscovering
	StateReady
	StateDisconnected
)

// String returns the wire form of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateSessionOpen:
		return "session_open"
	case StateStabilizing:
		return "stabilizing"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is one state transition, published on the manager's event channel.
type Event struct {
	State  State
	Reason string
	At     time.Time
}

var (
	// ErrPickCancelled reports that the operator dismissed the device
	// picker. Not a failure.
	ErrPickCancelled = errors.New("device selection cancelled")

	// ErrNotConnected reports a print or restore without a usable link.
	ErrNotConnected = errors.New("printer not connected")

	// ErrDiscoveryFailed reports that no writable endpoint appeared within
	// the discovery retry budget.
	ErrDiscoveryFailed = errors.New("no writable printer endpoint found")

	// ErrPrintInFlight reports a connect/restore/print attempted while
	// another operation holds the printer.
	ErrPrintInFlight = errors.New("printer operation already in flight")

	// ErrWriteFailed reports a document that still failed after the retry.
	ErrWriteFailed = errors.New("writing to printer failed")
)
