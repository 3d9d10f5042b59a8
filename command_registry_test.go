package fps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCommandKnown(t *testing.T) {
	desc, err := LookupCommand(GetStatus)
	require.NoError(t, err)
	assert.Equal(t, "GET_STATUS", desc.Name)
	assert.True(t, desc.Broadcastable)
	assert.True(t, desc.Safe)
}

func TestLookupCommandUnknown(t *testing.T) {
	_, err := LookupCommand(CommandID(9999))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestGotoAbsolutePositionIsUnsafeMoveCommand(t *testing.T) {
	desc, err := LookupCommand(GoToAbsolutePosition)
	require.NoError(t, err)
	assert.False(t, desc.Broadcastable)
	assert.False(t, desc.Safe)
	assert.True(t, desc.MoveCommand)
}

func TestStartFirmwareUpgradeIsBootloaderOnly(t *testing.T) {
	desc, err := LookupCommand(StartFirmwareUpgrade)
	require.NoError(t, err)
	assert.True(t, desc.Bootloader)
}
