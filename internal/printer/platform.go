package printer

import "context"

// The platform half of the package. The state machine talks to the
// Bluetooth (or serial) stack only through these interfaces, so the
// lifecycle logic is testable without hardware.

// Picker selects the device to connect to: a BLE scan, a fixed serial node,
// or a test fake.
type Picker interface {
	// Pick blocks until a device is chosen. Returns ErrPickCancelled when
	// the operator dismisses the selection.
	Pick(ctx context.Context) (Device, error)
}

// Device is a selected printer that sessions can be opened against. The
// handle stays valid across session losses so a restore can reuse it.
type Device interface {
	Name() string
	// Open establishes a session. onDisconnect fires at most once per
	// session when the platform reports the link lost.
	Open(ctx context.Context, onDisconnect func(error)) (Session, error)
	Close() error
}

// Session is one established link over which endpoints are enumerated.
type Session interface {
	// Endpoints enumerates the writable characteristics. Real stacks may
	// return an empty or partial list shortly after connecting; callers
	// retry.
	Endpoints(ctx context.Context) ([]Endpoint, error)
	Close() error
}

// Endpoint is a single writable characteristic.
type Endpoint interface {
	ServiceUUID() string
	UUID() string
	SupportsWrite() bool
	SupportsWriteNoResponse() bool
	Write(p []byte) error
	WriteNoResponse(p []byte) error
}

// Writable reports whether an endpoint accepts either write mode.
func Writable(ep Endpoint) bool {
	return ep.SupportsWrite() || ep.SupportsWriteNoResponse()
}
