package fps

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LowTempMonitor periodically reads a temperature Device and drives the
// FPS's temperature status bit plus the firmware's motor speed/holding
// current whenever the reading crosses the configured cold/very-cold
// thresholds. Grounded on original_source/python/jaeger/ieb.py's chiller
// polling loop, generalised to the narrow Device abstraction.
type LowTempMonitor struct {
	fps    *FPS
	sensor Device

	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	state FPSStatus

	log *log.Entry
}

// NewLowTempMonitor builds a monitor for fps reading sensor. The monitor
// starts in TemperatureUnknown until its first successful poll.
func NewLowTempMonitor(fps *FPS, sensor Device) *LowTempMonitor {
	return &LowTempMonitor{
		fps:    fps,
		sensor: sensor,
		state:  TemperatureUnknown,
		log:    log.WithField("component", "lowtemp"),
	}
}

// Start launches the polling goroutine. A no-op if already running.
func (m *LowTempMonitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	interval := m.fps.cfg.LowTemperature.Interval
	if interval <= 0 {
		interval = 60
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(secondsToDuration(interval))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

// Stop halts the polling goroutine. A no-op if not running.
func (m *LowTempMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// State returns the currently latched temperature status bit.
func (m *LowTempMonitor) State() FPSStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *LowTempMonitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := m.sensor.Read(ctx)
	if err != nil {
		m.transition(ctx, TemperatureUnknown)
		return
	}
	temp, ok := raw.(float64)
	if !ok {
		m.transition(ctx, TemperatureUnknown)
		return
	}

	cfg := m.fps.cfg.LowTemperature
	var next FPSStatus
	switch {
	case temp <= cfg.VeryColdThreshold:
		next = TemperatureVeryCold
	case temp <= cfg.ColdThreshold:
		next = TemperatureCold
	default:
		next = TemperatureNormal
	}
	m.transition(ctx, next)
}

// transition applies a threshold crossing: entering COLD from NORMAL ramps
// the motor speed down, entering VERY_COLD from COLD sets the holding
// current to the very-cold value, and returning to NORMAL resets both. A
// read failure
// (TemperatureUnknown) never by itself changes motor configuration, since
// it may be transient.
func (m *LowTempMonitor) transition(ctx context.Context, next FPSStatus) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	m.fps.setTemperatureBits(next)

	cfg := m.fps.cfg.LowTemperature
	motorSpeed := m.fps.cfg.Positioner.MotorSpeed

	switch {
	case prev == TemperatureNormal && next == TemperatureCold:
		if _, err := m.fps.SendCommand(ctx, SetSpeed, []uint16{0}, encodeSpeedPayload(cfg.RPMCold, cfg.RPMCold), 2*time.Second, false); err != nil {
			m.log.WithError(err).Warn("failed to set cold motor speed")
		}
	case prev == TemperatureCold && next == TemperatureVeryCold:
		if _, err := m.fps.SendCommand(ctx, SetHoldingCurrent, []uint16{0}, encodeCurrentPayload(cfg.HoldingTorqueVeryCold, cfg.HoldingTorqueVeryCold), 2*time.Second, false); err != nil {
			m.log.WithError(err).Warn("failed to set very-cold holding current")
		}
	case next == TemperatureNormal:
		if _, err := m.fps.SendCommand(ctx, SetSpeed, []uint16{0}, encodeSpeedPayload(motorSpeed, motorSpeed), 2*time.Second, false); err != nil {
			m.log.WithError(err).Warn("failed to reset motor speed")
		}
		if _, err := m.fps.SendCommand(ctx, SetHoldingCurrent, []uint16{0}, encodeCurrentPayload(cfg.HoldingTorqueNormal, cfg.HoldingTorqueNormal), 2*time.Second, false); err != nil {
			m.log.WithError(err).Warn("failed to reset holding current")
		}
	}

	m.fps.observe("info", "temperature transition", map[string]any{
		"from": temperatureName(prev),
		"to":   temperatureName(next),
	})
}

func temperatureName(s FPSStatus) string {
	switch s {
	case TemperatureNormal:
		return "NORMAL"
	case TemperatureCold:
		return "COLD"
	case TemperatureVeryCold:
		return "VERY_COLD"
	default:
		return "UNKNOWN"
	}
}
