package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// BLEPicker scans for the printer over Bluetooth LE. Target may be a MAC
// address or a local-name fragment; with no target, the first advertiser of
// the vendor print service is taken. Cancelling the context while the scan
// runs maps to ErrPickCancelled, since the scan is the backend half of the
// user-facing chooser.
type BLEPicker struct {
	adapter     *bluetooth.Adapter
	target      string
	serviceUUID string
	scanTimeout time.Duration
	log         zerolog.Logger

	enableOnce sync.Once
	enableErr  error
}

// NewBLEPicker creates a picker on the default adapter.
func NewBLEPicker(target, vendorServiceUUID string, scanTimeout time.Duration, logger zerolog.Logger) *BLEPicker {
	if scanTimeout <= 0 {
		scanTimeout = 30 * time.Second
	}
	if vendorServiceUUID == "" {
		vendorServiceUUID = DefaultVendorServiceUUID
	}
	return &BLEPicker{
		adapter:     bluetooth.DefaultAdapter,
		target:      target,
		serviceUUID: vendorServiceUUID,
		scanTimeout: scanTimeout,
		log:         logger.With().Str("component", "ble").Logger(),
	}
}

// Pick scans until the target printer advertises or the timeout elapses.
func (p *BLEPicker) Pick(ctx context.Context) (Device, error) {
	p.enableOnce.Do(func() {
		p.enableErr = p.adapter.Enable()
	})
	if p.enableErr != nil {
		return nil, fmt.Errorf("enabling bluetooth adapter: %w", p.enableErr)
	}

	svcUUID, err := bluetooth.ParseUUID(p.serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("vendor service uuid: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		err := p.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !p.matches(result, svcUUID) {
				return
			}
			adapter.StopScan()
			select {
			case found <- result:
			default:
			}
		})
		if err != nil {
			scanErr <- err
		}
	}()

	select {
	case result := <-found:
		p.log.Info().
			Str("name", result.LocalName()).
			Str("address", result.Address.String()).
			Msg("printer found")
		return &bleDevice{
			adapter: p.adapter,
			address: result.Address,
			name:    deviceLabel(result),
		}, nil
	case err := <-scanErr:
		return nil, fmt.Errorf("ble scan: %w", err)
	case <-ctx.Done():
		p.adapter.StopScan()
		return nil, ErrPickCancelled
	case <-time.After(p.scanTimeout):
		p.adapter.StopScan()
		return nil, fmt.Errorf("no printer found within %s", p.scanTimeout)
	}
}

func (p *BLEPicker) matches(result bluetooth.ScanResult, svcUUID bluetooth.UUID) bool {
	if p.target != "" {
		if strings.EqualFold(result.Address.String(), p.target) {
			return true
		}
		name := result.LocalName()
		return name != "" && strings.Contains(strings.ToLower(name), strings.ToLower(p.target))
	}
	return result.HasServiceUUID(svcUUID)
}

func deviceLabel(result bluetooth.ScanResult) string {
	if name := result.LocalName(); name != "" {
		return name
	}
	return result.Address.String()
}

// bleDevice is the retained handle: the address survives session drops so
// restore can reconnect without scanning again.
type bleDevice struct {
	adapter *bluetooth.Adapter
	address bluetooth.Address
	name    string
}

func (d *bleDevice) Name() string { return d.name }

// Open connects and installs the disconnect handler for this session.
func (d *bleDevice) Open(ctx context.Context, onDisconnect func(error)) (Session, error) {
	type connResult struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan connResult, 1)
	go func() {
		dev, err := d.adapter.Connect(d.address, bluetooth.ConnectionParams{})
		done <- connResult{dev, err}
	}()

	var dev bluetooth.Device
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("gatt connect: %w", res.err)
		}
		dev = res.dev
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	d.adapter.SetConnectHandler(func(peer bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if peer.Address.String() != d.address.String() {
			return
		}
		once.Do(func() {
			onDisconnect(errors.New("peripheral disconnected"))
		})
	})

	return &bleSession{device: dev}, nil
}

func (d *bleDevice) Close() error {
	// The address handle itself holds no OS resources.
	return nil
}

type bleSession struct {
	device bluetooth.Device
}

// Endpoints enumerates every characteristic of every service. The BlueZ/
// WinRT caches behind this call are exactly why the manager retries with a
// settle delay: an early call often reports a partial list.
func (s *bleSession) Endpoints(ctx context.Context) ([]Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	services, err := s.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}

	var eps []Endpoint
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			// A single misbehaving service should not hide the
			// vendor characteristic on another one.
			continue
		}
		for _, ch := range chars {
			eps = append(eps, &bleEndpoint{
				serviceUUID: svc.UUID().String(),
				char:        ch,
			})
		}
	}
	return eps, nil
}

func (s *bleSession) Close() error {
	return s.device.Disconnect()
}

// bleEndpoint wraps one GATT characteristic. The tinygo API does not expose
// property flags, so both write modes are reported as supported and the
// unacknowledged path simply fails over to the acknowledged one on error.
type bleEndpoint struct {
	serviceUUID string
	char        bluetooth.DeviceCharacteristic
}

func (e *bleEndpoint) ServiceUUID() string           { return e.serviceUUID }
func (e *bleEndpoint) UUID() string                  { return e.char.UUID().String() }
func (e *bleEndpoint) SupportsWrite() bool           { return true }
func (e *bleEndpoint) SupportsWriteNoResponse() bool { return true }

func (e *bleEndpoint) Write(p []byte) error {
	_, err := e.char.Write(p)
	return err
}

func (e *bleEndpoint) WriteNoResponse(p []byte) error {
	_, err := e.char.WriteWithoutResponse(p)
	return err
}
