package fps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionerStatusHasAndAny(t *testing.T) {
	s := SystemInitialized | DatumAlphaInitialized

	assert.True(t, s.Has(SystemInitialized))
	assert.True(t, s.Has(SystemInitialized|DatumAlphaInitialized))
	assert.False(t, s.Has(SystemInitialized|DatumBetaInitialized))

	assert.True(t, s.Any(DatumAlphaInitialized|DatumBetaInitialized))
	assert.False(t, s.Any(CollisionAlpha|CollisionBeta))
}

func TestPositionerStatusCollided(t *testing.T) {
	assert.True(t, PositionerStatus(CollisionAlpha).Collided())
	assert.True(t, PositionerStatus(CollisionBeta).Collided())
	assert.False(t, PositionerStatus(SystemInitialized).Collided())
}

func TestPositionerStatusInitialised(t *testing.T) {
	assert.True(t, PositionerStatus(SystemInitialized).Initialised())
	assert.False(t, PositionerStatus(0).Initialised())
}

func TestCommandStatusIsDoneAndFailed(t *testing.T) {
	assert.False(t, CommandReady.IsDone())
	assert.False(t, CommandRunning.IsDone())
	assert.True(t, CommandDone.IsDone())
	assert.True(t, CommandFailed.IsDone())
	assert.True(t, CommandCancelled.IsDone())
	assert.True(t, CommandTimedOut.IsDone())

	assert.False(t, CommandDone.Failed())
	assert.True(t, CommandFailed.Failed())
	assert.True(t, CommandTimedOut.Failed())
}

func TestResponseCodeString(t *testing.T) {
	assert.Equal(t, "COMMAND_ACCEPTED", CommandAccepted.String())
	assert.Equal(t, "COLLISION_DETECTED", CollisionDetectedCode.String())
	assert.Equal(t, "UNKNOWN_RESPONSE_CODE", ResponseCode(255).String())
}
