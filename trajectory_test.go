package fps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdss/fps-core/internal/config"
)

func newValidatingTrajectory(f *FPS, data TrajectoryData) *Trajectory {
	return &Trajectory{
		fps:    f,
		data:   data,
		nAlpha: make(map[uint16]int),
		nBeta:  make(map[uint16]int),
	}
}

// Spec §8 scenario 5: a trajectory containing any beta sample below
// safe_mode.min_beta is rejected at validation with failure kind
// SAFE_MODE, when safe mode is enabled.
func TestTrajectoryValidateRejectsSafeModeViolation(t *testing.T) {
	cfg := config.Default()
	cfg.SafeMode = config.SafeMode{Enabled: true, MinBeta: 160}
	f, err := NewFPS(cfg)
	require.NoError(t, err)

	data := TrajectoryData{
		5: TrajectoryEntry{
			Alpha: []TrajectorySample{{AngleDeg: 10, TimeS: 0}, {AngleDeg: 90, TimeS: 2}},
			Beta:  []TrajectorySample{{AngleDeg: 150, TimeS: 0}, {AngleDeg: 150, TimeS: 2}},
		},
	}

	traj := newValidatingTrajectory(f, data)
	err = traj.validate()
	require.Error(t, err)

	var trajErr *TrajectoryError
	require.ErrorAs(t, err, &trajErr)
	assert.Equal(t, FailureSafeMode, trajErr.FailedPositioners[5])
	assert.ErrorIs(t, err, ErrSafeModeViolation)
}

// The same trajectory is accepted when safe mode is disabled.
func TestTrajectoryValidateAllowsLowBetaWhenSafeModeDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.SafeMode = config.SafeMode{Enabled: false, MinBeta: 160}
	f, err := NewFPS(cfg)
	require.NoError(t, err)

	data := TrajectoryData{
		5: TrajectoryEntry{
			Alpha: []TrajectorySample{{AngleDeg: 10, TimeS: 0}, {AngleDeg: 90, TimeS: 2}},
			Beta:  []TrajectorySample{{AngleDeg: 20, TimeS: 0}, {AngleDeg: 20, TimeS: 2}},
		},
	}

	traj := newValidatingTrajectory(f, data)
	require.NoError(t, traj.validate())
	assert.Equal(t, 2.0, traj.moveTime)
}

// An empty trajectory is rejected with ErrTrajectoryEmpty.
func TestTrajectoryValidateRejectsEmpty(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)

	traj := newValidatingTrajectory(f, TrajectoryData{})
	err = traj.validate()
	require.Error(t, err)
	var trajErr *TrajectoryError
	require.ErrorAs(t, err, &trajErr)
	assert.ErrorIs(t, err, ErrTrajectoryEmpty)
}

// A trajectory entry missing one arm's samples is rejected.
func TestTrajectoryValidateRejectsMissingArm(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)

	data := TrajectoryData{
		5: TrajectoryEntry{
			Alpha: []TrajectorySample{{AngleDeg: 10, TimeS: 0}},
			Beta:  nil,
		},
	}
	traj := newValidatingTrajectory(f, data)
	err = traj.validate()
	require.Error(t, err)
	var trajErr *TrajectoryError
	require.ErrorAs(t, err, &trajErr)
	assert.Equal(t, FailureNoData, trajErr.FailedPositioners[5])
}

// Spec §8 scenario 4: a trajectory targeting a positioner whose status
// lacks DATUM_BETA_INITIALIZED fails the Send stage with failure kind
// NOT_READY for that positioner.
func TestTrajectorySendRejectsNotReadyPositioner(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	defer f.manager.Stop()

	p := f.AddPositioner(9, 0)
	p.UpdateStatus(uint64(SystemInitialized) | uint64(DatumAlphaInitialized) | uint64(DisplacementCompleted))

	data := TrajectoryData{
		9: TrajectoryEntry{
			Alpha: []TrajectorySample{{AngleDeg: 10, TimeS: 0}, {AngleDeg: 20, TimeS: 1}},
			Beta:  []TrajectorySample{{AngleDeg: 170, TimeS: 0}, {AngleDeg: 170, TimeS: 1}},
		},
	}

	traj := newValidatingTrajectory(f, data)
	require.NoError(t, traj.validate())

	err = traj.send(context.Background())
	require.Error(t, err)
	var trajErr *TrajectoryError
	require.ErrorAs(t, err, &trajErr)
	assert.Equal(t, FailureNotReady, trajErr.FailedPositioners[9])
}

// The Send stage also refuses to start while the FPS is locked.
func TestTrajectorySendRejectsWhileLocked(t *testing.T) {
	cfg := config.Default()
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	defer f.manager.Stop()

	f.Lock([]uint16{3})

	data := TrajectoryData{
		3: TrajectoryEntry{
			Alpha: []TrajectorySample{{AngleDeg: 10, TimeS: 0}, {AngleDeg: 20, TimeS: 1}},
			Beta:  []TrajectorySample{{AngleDeg: 170, TimeS: 0}, {AngleDeg: 170, TimeS: 1}},
		},
	}
	traj := newValidatingTrajectory(f, data)
	require.NoError(t, traj.validate())

	err = traj.send(context.Background())
	assert.ErrorIs(t, err, ErrFPSLocked)
}
