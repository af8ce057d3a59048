package printer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarm/serial"
)

// Serial support covers printers paired over classic Bluetooth SPP, where
// the OS exposes an RFCOMM device node (/dev/rfcomm0 and friends). The same
// state machine and transport run unchanged; only the platform half differs.

// SerialPicker "picks" a fixed device node. There is nothing to scan; the
// node is configuration.
type SerialPicker struct {
	Device string
	Baud   int
}

// Pick returns the configured device node as a Device.
func (p *SerialPicker) Pick(ctx context.Context) (Device, error) {
	if p.Device == "" {
		return nil, fmt.Errorf("no serial device configured")
	}
	baud := p.Baud
	if baud == 0 {
		baud = 9600 // default for most thermal printers
	}
	return &serialDevice{device: p.Device, baud: baud}, nil
}

type serialDevice struct {
	device string
	baud   int
}

func (d *serialDevice) Name() string { return d.device }

func (d *serialDevice) Open(ctx context.Context, onDisconnect func(error)) (Session, error) {
	port, err := serial.OpenPort(&serial.Config{Name: d.device, Baud: d.baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port: %w", err)
	}
	// RFCOMM nodes report link loss as write errors, not as events;
	// onDisconnect stays unused here.
	return &serialSession{port: port, device: d.device}, nil
}

func (d *serialDevice) Close() error { return nil }

type serialSession struct {
	port   *serial.Port
	device string
	mu     sync.Mutex
}

func (s *serialSession) Endpoints(ctx context.Context) ([]Endpoint, error) {
	return []Endpoint{&serialEndpoint{session: s}}, nil
}

func (s *serialSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

func (s *serialSession) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return fmt.Errorf("serial port closed")
	}
	_, err := s.port.Write(p)
	return err
}

// serialEndpoint is the single write channel of a serial session. Writes are
// inherently acknowledged by the kernel, so no unacknowledged mode exists.
type serialEndpoint struct {
	session *serialSession
}

func (e *serialEndpoint) ServiceUUID() string           { return "serial" }
func (e *serialEndpoint) UUID() string                  { return e.session.device }
func (e *serialEndpoint) SupportsWrite() bool           { return true }
func (e *serialEndpoint) SupportsWriteNoResponse() bool { return false }

func (e *serialEndpoint) Write(p []byte) error {
	return e.session.write(p)
}

func (e *serialEndpoint) WriteNoResponse(p []byte) error {
	return e.session.write(p)
}
