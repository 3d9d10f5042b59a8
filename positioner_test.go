package fps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSend(ctx context.Context, id CommandID, data []byte, timeout time.Duration) (*Command, error) {
	cmd, err := NewCommand(id, []uint16{0}, nil, 0)
	if err != nil {
		return nil, err
	}
	cmd.Run()
	return cmd, nil
}

func TestPositionerGotoRejectsWhenDisabled(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.SetDisabled(true)
	err := p.Goto(context.Background(), 10, 170, 0)
	assert.ErrorIs(t, err, ErrPositionerDisabled)
}

func TestPositionerGotoRejectsWhenNotInitialised(t *testing.T) {
	p := NewPositioner(1, noopSend)
	err := p.Goto(context.Background(), 10, 170, 0)
	assert.ErrorIs(t, err, ErrPositionerNotReady)
}

func TestPositionerGotoDelegatesToHook(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.UpdateStatus(uint64(SystemInitialized))

	called := false
	p.SetGotoHook(func(ctx context.Context, positionerID uint16, alpha, beta, speed float64) error {
		called = true
		assert.EqualValues(t, 1, positionerID)
		assert.Equal(t, 10.0, alpha)
		assert.Equal(t, 170.0, beta)
		return nil
	})

	require.NoError(t, p.Goto(context.Background(), 10, 170, 0))
	assert.True(t, called)
}

func TestPositionerUpdateStatusSetsStickyCollision(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.UpdateStatus(uint64(SystemInitialized | CollisionAlpha))
	assert.True(t, p.Collided())

	// A subsequent status word without the collision bit must not clear it;
	// only ClearCollision does.
	p.UpdateStatus(uint64(SystemInitialized))
	assert.True(t, p.Collided())

	p.ClearCollision()
	assert.False(t, p.Collided())
}

func TestPositionerUpdateStatusInBootloaderModeSetsBootStatus(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.SetFirmware("01.80.00")
	p.UpdateStatus(uint64(BootloaderInit))
	assert.True(t, p.InBootloader())
	assert.Equal(t, BootloaderInit, p.Snapshot().BootStatus)
	assert.Equal(t, PositionerStatus(0), p.Status())
}

func TestPositionerPositionRoundTrip(t *testing.T) {
	p := NewPositioner(1, noopSend)
	_, _, ok := p.Position()
	assert.False(t, ok)

	p.UpdatePosition(90, 20)
	alpha, beta, ok := p.Position()
	require.True(t, ok)
	assert.Equal(t, 90.0, alpha)
	assert.Equal(t, 20.0, beta)
}

func TestPositionerSetOfflineImpliesDisabled(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.SetOffline(true)
	assert.True(t, p.Offline())
	assert.True(t, p.Disabled())
}

func TestPositionerInitialiseRequiresDatumAndSystemInitialised(t *testing.T) {
	p := NewPositioner(1, noopSend)
	err := p.Initialise(context.Background(), false)
	assert.ErrorIs(t, err, ErrPositionerNotReady)

	p.UpdateStatus(uint64(SystemInitialized))
	err = p.Initialise(context.Background(), false)
	assert.ErrorIs(t, err, ErrPositionerNotReady)

	p.UpdateStatus(uint64(SystemInitialized | DatumAlphaInitialized | DatumBetaInitialized))
	require.NoError(t, p.Initialise(context.Background(), false))
}

func TestPositionerInitialiseInBootloaderModeIsNoop(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.SetFirmware("01.80.00")
	require.NoError(t, p.Initialise(context.Background(), true))
}

func TestPositionerSnapshotReflectsBootloaderFirmware(t *testing.T) {
	p := NewPositioner(1, noopSend)
	p.SetFirmware("04.80.01")
	snap := p.Snapshot()
	assert.True(t, snap.InBootloader)
	assert.Equal(t, "04.80.01", snap.Firmware)
}

func TestPositionerWaitForStatusTimesOut(t *testing.T) {
	p := NewPositioner(1, noopSend)
	err := p.WaitForStatus(context.Background(), SystemInitialized, time.Millisecond, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimedOut)
}

func TestPositionerWaitForStatusSucceedsOncePolledTrue(t *testing.T) {
	p := NewPositioner(1, noopSend)
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.UpdateStatus(uint64(SystemInitialized))
	}()
	err := p.WaitForStatus(context.Background(), SystemInitialized, time.Millisecond, time.Second)
	assert.NoError(t, err)
}
