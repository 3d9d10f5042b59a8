package fps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdss/fps-core/internal/config"
)

func newTestFPS(t *testing.T) *FPS {
	t.Helper()
	cfg := config.Default()
	cfg.FPS.UseLock = true
	f, err := NewFPS(cfg)
	require.NoError(t, err)
	f.manager.Start()
	t.Cleanup(func() { f.manager.Stop() })
	return f
}

// Spec §8 scenario 3: an inbound COLLISION_DETECTED reply locks the FPS and
// records the reporting positioner, and a subsequent non-safe command is
// then rejected with ErrFPSLocked.
func TestCollisionDetectedLocksFPS(t *testing.T) {
	f := newTestFPS(t)

	f.onCollisionDetected(17)

	assert.True(t, f.Locked())
	assert.Equal(t, []uint16{17}, f.LockedBy())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.SendCommand(ctx, GoToAbsolutePosition, []uint16{17}, nil, time.Second, false)
	assert.ErrorIs(t, err, ErrFPSLocked)
}

// A second collision report from a different positioner while already
// locked still appends to LockedBy rather than replacing it, and does not
// clear the existing lock: onCollisionDetected records every reporting
// positioner, whether or not the FPS was already locked.
func TestSecondCollisionWhileLockedAppendsLockedBy(t *testing.T) {
	f := newTestFPS(t)

	f.onCollisionDetected(17)
	f.onCollisionDetected(22)

	assert.True(t, f.Locked())
	assert.ElementsMatch(t, []uint16{17, 22}, f.LockedBy())
}

// Safe commands (e.g. GET_STATUS) remain usable while locked.
func TestSafeCommandAllowedWhileLocked(t *testing.T) {
	f := newTestFPS(t)
	f.onCollisionDetected(3)
	require.True(t, f.Locked())

	desc, err := LookupCommand(GetStatus)
	require.NoError(t, err)
	assert.True(t, desc.Safe)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.SendCommand(ctx, GetStatus, []uint16{0}, nil, time.Second, false)
	assert.NotErrorIs(t, err, ErrFPSLocked)
}

// Unlock refuses while any positioner still has the sticky collision flag
// set, and succeeds once it's cleared.
func TestUnlockRefusesWhileCollided(t *testing.T) {
	f := newTestFPS(t)
	p := f.AddPositioner(9, 0)
	p.UpdateStatus(uint64(CollisionAlpha))
	require.True(t, p.Collided())

	f.Lock([]uint16{9})
	err := f.Unlock()
	assert.ErrorIs(t, err, ErrStillCollided)
	assert.True(t, f.Locked())

	p.ClearCollision()
	require.NoError(t, f.Unlock())
	assert.False(t, f.Locked())
}

// SendCommand rejects commands to a disabled positioner unless the command
// is itself safe.
func TestSendCommandRejectsDisabledPositioner(t *testing.T) {
	f := newTestFPS(t)
	p := f.AddPositioner(4, 0)
	p.SetDisabled(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.SendCommand(ctx, GoToAbsolutePosition, []uint16{4}, nil, time.Second, false)
	assert.ErrorIs(t, err, ErrPositionerDisabled)
}

// SendCommand rejects sending a non-bootloader command to a positioner
// whose firmware reports bootloader mode, and vice versa.
func TestSendCommandRejectsBootloaderMismatch(t *testing.T) {
	f := newTestFPS(t)
	p := f.AddPositioner(4, 0)
	p.SetFirmware("01.80.00")
	require.True(t, p.InBootloader())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.SendCommand(ctx, GoToAbsolutePosition, []uint16{4}, nil, time.Second, false)
	assert.ErrorIs(t, err, ErrBootloaderMismatch)
}

// SendCommand rejects an unknown positioner id outright.
func TestSendCommandRejectsUnknownPositioner(t *testing.T) {
	f := newTestFPS(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.SendCommand(ctx, GoToAbsolutePosition, []uint16{99}, nil, time.Second, false)
	assert.ErrorIs(t, err, ErrUnknownPositioner)
}

// GlobalStatus reports Collided whenever any known, enabled positioner has
// the sticky collision flag set, independent of the lock state.
func TestGlobalStatusReportsCollided(t *testing.T) {
	f := newTestFPS(t)
	p := f.AddPositioner(1, 0)
	p.UpdateStatus(uint64(SystemInitialized) | uint64(DisplacementCompleted))
	assert.Equal(t, Idle, f.GlobalStatus()&(Idle|Moving|Collided))

	p.UpdateStatus(uint64(CollisionBeta))
	assert.Equal(t, Collided, f.GlobalStatus()&(Idle|Moving|Collided))
}
