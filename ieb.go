package fps

import (
	"context"
	"fmt"
	"sync"
)

// Device is one named, typed value on the external instrumentation and
// electronics box (IEB) or chiller PLC: a relay (open/closed), a sensor
// reading, or a digital output. The core never speaks the wire protocol to
// reach these (wago/modbus, in the original); it consumes them through this
// narrow interface, matching spec §1's "abstracted as a typed key/value
// device interface".
type Device interface {
	// Read returns the device's current value. For a relay this is "open"
	// or "closed"; for a sensor it is a float64 reading.
	Read(ctx context.Context) (any, error)
	// Write sets the device's value. Returns an error for read-only
	// devices (sensors).
	Write(ctx context.Context, value any) error
}

// IEB is the set of named devices reachable on the instrumentation box,
// keyed by device name (e.g. "sync_line", "rtd1"). Disabled mirrors the
// original's IEB.disabled flag: once a connection attempt fails the IEB is
// marked disabled and every subsequent call fails fast rather than
// retrying the physical link on every poll.
type IEB struct {
	mu       sync.RWMutex
	devices  map[string]Device
	disabled bool
}

// NewIEB builds an IEB wrapping the given named devices.
func NewIEB(devices map[string]Device) *IEB {
	if devices == nil {
		devices = make(map[string]Device)
	}
	return &IEB{devices: devices}
}

// Disabled reports whether the IEB has been marked unreachable.
func (ieb *IEB) Disabled() bool {
	ieb.mu.RLock()
	defer ieb.mu.RUnlock()
	return ieb.disabled
}

// SetDisabled marks the IEB reachable or unreachable.
func (ieb *IEB) SetDisabled(disabled bool) {
	ieb.mu.Lock()
	defer ieb.mu.Unlock()
	ieb.disabled = disabled
}

// Device looks up a named device.
func (ieb *IEB) Device(name string) (Device, error) {
	ieb.mu.RLock()
	defer ieb.mu.RUnlock()
	if ieb.disabled {
		return nil, fmt.Errorf("ieb: disabled")
	}
	d, ok := ieb.devices[name]
	if !ok {
		return nil, fmt.Errorf("ieb: unknown device %q", name)
	}
	return d, nil
}

// RelayDevice is an in-process Device simulating a digital-output relay,
// used both for the sync line (§4.8 "Start": closed/high to start a
// trajectory, opened/low ~500ms later) and in tests.
type RelayDevice struct {
	mu     sync.Mutex
	closed bool
}

// Read returns "open" or "closed", matching the original's relay encoding.
func (r *RelayDevice) Read(ctx context.Context) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "closed", nil
	}
	return "open", nil
}

// Write accepts "open"/"closed" or a bool (true == closed).
func (r *RelayDevice) Write(ctx context.Context, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := value.(type) {
	case string:
		r.closed = v == "closed"
	case bool:
		r.closed = v
	default:
		return fmt.Errorf("ieb: relay write: unsupported value %T", value)
	}
	return nil
}

// Closed reports the relay's current position.
func (r *RelayDevice) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// SensorDevice is an in-process Device simulating a read-only analog
// sensor (e.g. the low-temperature monitor's RTD), used in tests and by
// the virtual FPS.
type SensorDevice struct {
	mu    sync.Mutex
	value float64
	err   error
}

// NewSensorDevice builds a sensor pinned at an initial reading.
func NewSensorDevice(value float64) *SensorDevice {
	return &SensorDevice{value: value}
}

// Set updates the simulated reading (and clears any injected failure).
func (s *SensorDevice) Set(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.err = nil
}

// Fail injects a read failure, simulating a disconnected sensor.
func (s *SensorDevice) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *SensorDevice) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.value, nil
}

func (s *SensorDevice) Write(ctx context.Context, value any) error {
	return fmt.Errorf("ieb: sensor device is read-only")
}

// SyncLineOpen reports whether the FPS's configured sync-line relay is
// currently open (the required pre-condition for a sync-line trajectory
// start). Returns true (vacuously "open") if no IEB/sync line is wired,
// matching setups that only ever broadcast START_TRAJECTORY.
func (fps *FPS) SyncLineOpen() bool {
	dev := fps.syncLineDevice()
	if dev == nil {
		return true
	}
	v, err := dev.Read(context.Background())
	if err != nil {
		fps.log.WithError(err).Warn("failed to read sync line relay")
		return false
	}
	return v == "open"
}

// CloseSyncLine drives the sync line relay high (closed) to start a
// pre-loaded trajectory.
func (fps *FPS) CloseSyncLine() error {
	dev := fps.syncLineDevice()
	if dev == nil {
		return nil
	}
	return dev.Write(context.Background(), "closed")
}

// OpenSyncLine drives the sync line relay back low (open).
func (fps *FPS) OpenSyncLine() error {
	dev := fps.syncLineDevice()
	if dev == nil {
		return nil
	}
	return dev.Write(context.Background(), "open")
}

func (fps *FPS) syncLineDevice() Device {
	if fps.ieb == nil || fps.ieb.Disabled() {
		return nil
	}
	dev, err := fps.ieb.Device("sync_line")
	if err != nil {
		return nil
	}
	return dev
}
