package fps

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdss/fps-core/internal/config"
)

// stubSensor is a Device whose reading is set directly by the test, with no
// physical backing store.
type stubSensor struct{ value float64 }

func (s *stubSensor) Read(ctx context.Context) (any, error) { return s.value, nil }
func (s *stubSensor) Write(ctx context.Context, value any) error {
	return fmt.Errorf("sensor is read-only")
}

// Spec §8 scenario 7: driving the sensor reading from 10C to
// cold_threshold-1 transitions to COLD exactly once; returning to 15C
// restores NORMAL exactly once.
func TestLowTempMonitorTransitionsOnThresholdCrossing(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	defer f.manager.Stop()

	sensor := &stubSensor{value: 10}
	mon := NewLowTempMonitor(f, sensor)
	assert.Equal(t, TemperatureUnknown, mon.State())

	mon.poll()
	assert.Equal(t, TemperatureNormal, mon.State())
	assert.Equal(t, TemperatureNormal, f.GlobalStatus()&TemperatureBits)

	sensor.value = cfg.LowTemperature.ColdThreshold - 1
	mon.poll()
	assert.Equal(t, TemperatureCold, mon.State())

	// Re-polling at the same reading must not re-trigger the transition
	// (state is latched, idempotent).
	mon.poll()
	assert.Equal(t, TemperatureCold, mon.State())

	sensor.value = 15
	mon.poll()
	assert.Equal(t, TemperatureNormal, mon.State())
	assert.Equal(t, TemperatureNormal, f.GlobalStatus()&TemperatureBits)
}

// Entering VERY_COLD from COLD is a distinct transition from entering COLD
// from NORMAL.
func TestLowTempMonitorVeryColdTransition(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	defer f.manager.Stop()

	sensor := &stubSensor{value: cfg.LowTemperature.ColdThreshold - 1}
	mon := NewLowTempMonitor(f, sensor)
	mon.poll()
	require.Equal(t, TemperatureCold, mon.State())

	sensor.value = cfg.LowTemperature.VeryColdThreshold - 1
	mon.poll()
	assert.Equal(t, TemperatureVeryCold, mon.State())
}

// A sensor read failure transitions to TEMPERATURE_UNKNOWN rather than
// surfacing an error, and a later successful read recovers normally.
type failingSensor struct{ fail bool }

func (s *failingSensor) Read(ctx context.Context) (any, error) {
	if s.fail {
		return nil, fmt.Errorf("sensor unreachable")
	}
	return 10.0, nil
}
func (s *failingSensor) Write(ctx context.Context, value any) error {
	return fmt.Errorf("sensor is read-only")
}

func TestLowTempMonitorUnknownOnReadFailure(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	defer f.manager.Stop()

	sensor := &failingSensor{fail: true}
	mon := NewLowTempMonitor(f, sensor)
	mon.poll()
	assert.Equal(t, TemperatureUnknown, mon.State())

	sensor.fail = false
	mon.poll()
	assert.Equal(t, TemperatureNormal, mon.State())
}
