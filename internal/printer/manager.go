package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Vendor-specific ESC/POS-over-BLE identifiers, preferred over a generic
// writable match during full discovery. Most no-name thermal printers expose
// this pair.
const (
	DefaultVendorServiceUUID = "000018f0-0000-1000-8000-00805f9b34fb"
	DefaultVendorCharUUID    = "00002af1-0000-1000-8000-00805f9b34fb"
)

// Options tunes the connection state machine. Zero values select defaults.
type Options struct {
	// SettleDelay is observed between opening a session and the first
	// enumeration attempt. Not an optimization: early service lists are
	// incomplete on real stacks.
	SettleDelay time.Duration
	// RestoreSettleDelay replaces SettleDelay on the restore path, where
	// the device identity is already known.
	RestoreSettleDelay time.Duration
	// DiscoverAttempts bounds enumeration retries per connect.
	DiscoverAttempts int
	// DiscoverDelay separates enumeration attempts.
	DiscoverDelay time.Duration
	// DiscoveryTimeout is the wall-clock bound around the whole retry
	// loop, guarding against a stalled platform stack.
	DiscoveryTimeout time.Duration

	VendorServiceUUID string
	VendorCharUUID    string

	// ChunkSize bounds a single transport write. Deliberately far below
	// any negotiated MTU; reliability over throughput.
	ChunkSize int
	// ChunkDelay paces consecutive chunks so the printer's buffer is not
	// overrun.
	ChunkDelay time.Duration
	// RetryDelay precedes the single whole-document print retry.
	RetryDelay time.Duration

	Logger zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.RestoreSettleDelay <= 0 {
		o.RestoreSettleDelay = 500 * time.Millisecond
	}
	if o.DiscoverAttempts <= 0 {
		o.DiscoverAttempts = 5
	}
	if o.DiscoverDelay <= 0 {
		o.DiscoverDelay = time.Second
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = 45 * time.Second
	}
	if o.VendorServiceUUID == "" {
		o.VendorServiceUUID = DefaultVendorServiceUUID
	}
	if o.VendorCharUUID == "" {
		o.VendorCharUUID = DefaultVendorCharUUID
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 20
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = 20 * time.Millisecond
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
}

// Manager owns the single printer connection. It is an injected instance,
// not process-global state; construct one per till and pass it down.
type Manager struct {
	opts   Options
	picker Picker
	log    zerolog.Logger

	// opMu makes connect/restore/print single-flight. Concurrent calls
	// fail fast instead of interleaving writes.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	device   Device
	session  Session
	endpoint Endpoint
	// gen invalidates disconnect callbacks from sessions that have
	// already been torn down.
	gen int

	events chan Event
}

// NewManager creates a manager in StateIdle.
func NewManager(picker Picker, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		opts:   opts,
		picker: picker,
		log:    opts.Logger.With().Str("component", "printer").Logger(),
		state:  StateIdle,
		events: make(chan Event, 32),
	}
}

// Events returns the state transition channel the UI subscribes to. Events
// are dropped, not blocked on, when the subscriber lags.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DeviceName returns the bound device's label, or empty when no device is
// held.
func (m *Manager) DeviceName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return ""
	}
	return m.device.Name()
}

// Connect runs the full user-initiated connect: pick a device, open a
// session, settle, discover a writable endpoint. Picker cancellation is a
// normal outcome and returns nil with the manager back in StateIdle.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return ErrPrintInFlight
	}
	defer m.opMu.Unlock()

	m.setState(StateRequesting, "")

	device, err := m.picker.Pick(ctx)
	if err != nil {
		m.setState(StateIdle, "")
		if err == ErrPickCancelled || ctx.Err() != nil {
			m.log.Info().Msg("device selection cancelled")
			return nil
		}
		return fmt.Errorf("selecting device: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	if err := m.openAndDiscover(ctx, m.opts.SettleDelay, true); err != nil {
		m.teardown("discovery failed")
		return err
	}
	return nil
}

// Restore re-establishes a Ready link on the already-selected device after
// an asynchronous disconnect: reopen, shorter settle, light discovery (the
// first writable endpoint is accepted).
func (m *Manager) Restore(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return ErrPrintInFlight
	}
	defer m.opMu.Unlock()

	return m.restore(ctx)
}

// restore is the opMu-held implementation shared with the print path.
func (m *Manager) restore(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	if m.device == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.clearSessionLocked()
	m.mu.Unlock()

	if err := m.openAndDiscover(ctx, m.opts.RestoreSettleDelay, false); err != nil {
		m.mu.Lock()
		m.clearSessionLocked()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.emit(StateDisconnected, "restore failed")
		return err
	}
	return nil
}

// Disconnect tears everything down to StateIdle: session, endpoint, device
// handle, disconnect listeners. Safe to call repeatedly and while a print is
// in flight (the in-flight writes will fail and surface their error).
func (m *Manager) Disconnect() {
	m.teardown("user disconnect")
}

// openAndDiscover drives SessionOpen → Stabilizing → Discovering → Ready.
// vendorPreferred selects full discovery (vendor UUID outranks a generic
// writable characteristic) versus the light restore pass.
func (m *Manager) openAndDiscover(ctx context.Context, settle time.Duration, vendorPreferred bool) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.DiscoveryTimeout)
	defer cancel()

	gen, err := m.openSession(ctx)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	m.setState(StateStabilizing, "")
	if err := sleepCtx(ctx, settle); err != nil {
		return err
	}

	m.setState(StateDiscovering, "")
	for attempt := 1; attempt <= m.opts.DiscoverAttempts; attempt++ {
		m.mu.Lock()
		session := m.session
		m.mu.Unlock()

		if session == nil {
			// Link dropped mid-discovery; reopen and keep going.
			gen, err = m.openSession(ctx)
			if err != nil {
				return fmt.Errorf("reopening session: %w", err)
			}
			m.mu.Lock()
			session = m.session
			m.mu.Unlock()
			m.setState(StateDiscovering, "")
		}

		eps, err := session.Endpoints(ctx)
		switch {
		case err != nil:
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("endpoint enumeration failed")
			m.mu.Lock()
			m.clearSessionLocked()
			m.mu.Unlock()
		default:
			if ep := m.selectEndpoint(eps, vendorPreferred); ep != nil {
				m.mu.Lock()
				if gen != m.gen {
					// A teardown raced the enumeration; binding
					// this endpoint would resurrect a dead link.
					m.mu.Unlock()
					return ErrNotConnected
				}
				m.endpoint = ep
				m.state = StateReady
				m.mu.Unlock()
				m.emit(StateReady, "")
				m.log.Info().Str("endpoint", ep.UUID()).Int("attempt", attempt).Msg("writable endpoint bound")
				return nil
			}
			m.log.Debug().Int("attempt", attempt).Int("endpoints", len(eps)).Msg("no writable endpoint yet")
		}

		if attempt < m.opts.DiscoverAttempts {
			if err := sleepCtx(ctx, m.opts.DiscoverDelay); err != nil {
				return err
			}
		}
	}

	return ErrDiscoveryFailed
}

func (m *Manager) openSession(ctx context.Context) (int, error) {
	m.mu.Lock()
	device := m.device
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if device == nil {
		return 0, ErrNotConnected
	}

	session, err := device.Open(ctx, func(reason error) {
		m.onPlatformDisconnect(gen, reason)
	})
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.session = session
	m.state = StateSessionOpen
	m.mu.Unlock()
	m.emit(StateSessionOpen, "")
	return gen, nil
}

// selectEndpoint applies the capability negotiation rule: the known vendor
// characteristic wins when present; otherwise the first endpoint whose flags
// accept writes. The light pass skips the vendor preference.
func (m *Manager) selectEndpoint(eps []Endpoint, vendorPreferred bool) Endpoint {
	if vendorPreferred {
		for _, ep := range eps {
			if ep.ServiceUUID() == m.opts.VendorServiceUUID &&
				ep.UUID() == m.opts.VendorCharUUID && Writable(ep) {
				return ep
			}
		}
	}
	for _, ep := range eps {
		if Writable(ep) {
			return ep
		}
	}
	return nil
}

// onPlatformDisconnect handles the asynchronous link-loss notification.
// Notifications from superseded sessions are ignored. The device handle is
// kept so Restore can reuse it.
func (m *Manager) onPlatformDisconnect(gen int, reason error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateIdle || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.clearSessionLocked()
	wasReady := m.state == StateReady
	m.state = StateDisconnected
	m.mu.Unlock()

	msg := "link lost"
	if reason != nil {
		msg = reason.Error()
	}
	if wasReady {
		m.emit(StateDisconnected, msg)
	}
	m.log.Warn().Str("reason", msg).Msg("printer disconnected")
}

func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	m.clearSessionLocked()
	if m.device != nil {
		m.device.Close()
		m.device = nil
	}
	m.gen++
	changed := m.state != StateIdle
	m.state = StateIdle
	m.mu.Unlock()

	if changed {
		m.emit(StateIdle, reason)
	}
}

// clearSessionLocked drops session and endpoint. Caller holds mu.
func (m *Manager) clearSessionLocked() {
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
	m.endpoint = nil
}

func (m *Manager) setState(s State, reason string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.emit(s, reason)
}

// emit publishes a transition without ever blocking the state machine.
func (m *Manager) emit(s State, reason string) {
	ev := Event{State: s, Reason: reason, At: time.Now()}
	select {
	case m.events <- ev:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
