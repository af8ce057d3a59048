package printer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// In-memory platform fakes. They let the tests drive every state-machine
// path, including the platform quirks the real stack exhibits: empty service
// lists right after connect, dropped sessions mid-discovery, silent write
// failures.

type fakeEndpoint struct {
	mu          sync.Mutex
	svcUUID     string
	uuid        string
	ackWrite    bool
	noRespWrite bool

	writes     [][]byte // every successful chunk, in order
	ackWrites  int
	nrWrites   int
	failNoResp int // fail this many unacknowledged writes
	failAck    int // fail this many acknowledged writes
}

func newVendorEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		svcUUID:     DefaultVendorServiceUUID,
		uuid:        DefaultVendorCharUUID,
		ackWrite:    true,
		noRespWrite: true,
	}
}

func newGenericEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		svcUUID:     "0000ffff-0000-1000-8000-00805f9b34fb",
		uuid:        "0000ff01-0000-1000-8000-00805f9b34fb",
		ackWrite:    true,
		noRespWrite: true,
	}
}

func (e *fakeEndpoint) ServiceUUID() string           { return e.svcUUID }
func (e *fakeEndpoint) UUID() string                  { return e.uuid }
func (e *fakeEndpoint) SupportsWrite() bool           { return e.ackWrite }
func (e *fakeEndpoint) SupportsWriteNoResponse() bool { return e.noRespWrite }

func (e *fakeEndpoint) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ackWrites++
	if e.failAck > 0 {
		e.failAck--
		return errors.New("ack write failed")
	}
	e.writes = append(e.writes, append([]byte(nil), p...))
	return nil
}

func (e *fakeEndpoint) WriteNoResponse(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nrWrites++
	if e.failNoResp > 0 {
		e.failNoResp--
		return errors.New("unacknowledged write failed")
	}
	e.writes = append(e.writes, append([]byte(nil), p...))
	return nil
}

func (e *fakeEndpoint) written() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []byte
	for _, w := range e.writes {
		out = append(out, w...)
	}
	return out
}

func (e *fakeEndpoint) chunkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

type fakeSession struct {
	mu sync.Mutex
	// endpoints appear only from attempt emptyUntil+1 on, mimicking the
	// incomplete-cache behavior of real stacks.
	eps        []Endpoint
	emptyUntil int
	epsErr     error
	calls      int
	closed     bool

	// onEndpoints runs before each enumeration, outside the session lock,
	// so tests can interleave manager calls with discovery.
	onEndpoints func()
}

func (s *fakeSession) Endpoints(ctx context.Context) ([]Endpoint, error) {
	if s.onEndpoints != nil {
		s.onEndpoints()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.epsErr != nil {
		return nil, s.epsErr
	}
	if s.calls <= s.emptyUntil {
		return nil, nil
	}
	return s.eps, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDevice struct {
	mu           sync.Mutex
	name         string
	sessions     []*fakeSession // consumed per Open call
	openErr      error
	opens        int
	closed       bool
	onDisconnect func(error) // latest session's callback
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Open(ctx context.Context, onDisconnect func(error)) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	if len(d.sessions) == 0 {
		return nil, errors.New("no more fake sessions")
	}
	s := d.sessions[0]
	if len(d.sessions) > 1 {
		d.sessions = d.sessions[1:]
	}
	d.onDisconnect = onDisconnect
	return s, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// dropLink fires the platform disconnect notification.
func (d *fakeDevice) dropLink() {
	d.mu.Lock()
	cb := d.onDisconnect
	d.mu.Unlock()
	if cb != nil {
		cb(errors.New("link lost"))
	}
}

type fakePicker struct {
	dev Device
	err error
}

func (p *fakePicker) Pick(ctx context.Context) (Device, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.dev, nil
}

// fastOptions keeps every delay tiny so state-machine tests run in
// milliseconds.
func fastOptions() Options {
	return Options{
		SettleDelay:        time.Millisecond,
		RestoreSettleDelay: time.Millisecond,
		DiscoverAttempts:   3,
		DiscoverDelay:      time.Millisecond,
		DiscoveryTimeout:   5 * time.Second,
		ChunkSize:          4,
		ChunkDelay:         time.Microsecond,
		RetryDelay:         time.Millisecond,
	}
}

func deviceWith(eps ...Endpoint) *fakeDevice {
	return &fakeDevice{
		name:     "TEST-PRINTER",
		sessions: []*fakeSession{{eps: eps}},
	}
}
