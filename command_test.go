package fps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandRejectsBroadcastOfUnbroadcastableCommand(t *testing.T) {
	_, err := NewCommand(GoToAbsolutePosition, []uint16{0}, nil, time.Second)
	assert.ErrorIs(t, err, ErrNotBroadcastable)
}

func TestCommandUnicastLifecycleCompletesOnReply(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{7}, nil, time.Second)
	require.NoError(t, err)

	msgs, err := cmd.GetMessages(nil, 6)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 7, msgs[0].PositionerID)

	cmd.Run()
	assert.Equal(t, CommandRunning, cmd.Status())

	cmd.ProcessReply(Reply{
		PositionerID: 7,
		CommandID:    uint16(GetStatus),
		UID:          msgs[0].UID,
		ResponseCode: CommandAccepted,
		Data:         []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}, 1)

	assert.Equal(t, CommandDone, cmd.Status())
	require.NoError(t, cmd.Wait(context.Background()))
	assert.Len(t, cmd.Replies(), 1)
}

func TestCommandBroadcastWaitsForEveryPositioner(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{0}, nil, time.Second)
	require.NoError(t, err)

	msgs, err := cmd.GetMessages([]uint16{1, 2, 3}, 6)
	require.NoError(t, err)
	require.Len(t, msgs, 1) // broadcast emits one message

	cmd.Run()

	cmd.ProcessReply(Reply{PositionerID: 1, CommandID: uint16(GetStatus), UID: msgs[0].UID, ResponseCode: CommandAccepted}, 3)
	assert.Equal(t, CommandRunning, cmd.Status())

	cmd.ProcessReply(Reply{PositionerID: 2, CommandID: uint16(GetStatus), UID: msgs[0].UID, ResponseCode: CommandAccepted}, 3)
	assert.Equal(t, CommandRunning, cmd.Status())

	cmd.ProcessReply(Reply{PositionerID: 3, CommandID: uint16(GetStatus), UID: msgs[0].UID, ResponseCode: CommandAccepted}, 3)
	assert.Equal(t, CommandDone, cmd.Status())
}

func TestCommandFailsOnNonAcceptedResponseCode(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{7}, nil, time.Second)
	require.NoError(t, err)
	msgs, err := cmd.GetMessages(nil, 6)
	require.NoError(t, err)
	cmd.Run()

	cmd.ProcessReply(Reply{
		PositionerID: 7, CommandID: uint16(GetStatus), UID: msgs[0].UID,
		ResponseCode: ValueOutOfRange,
	}, 1)

	assert.Equal(t, CommandFailed, cmd.Status())
	assert.ErrorIs(t, cmd.Wait(context.Background()), ErrCommandFailed)
}

func TestCommandTimesOutWithoutReply(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{7}, nil, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = cmd.GetMessages(nil, 6)
	require.NoError(t, err)
	cmd.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = cmd.Wait(ctx)
	assert.ErrorIs(t, err, ErrCommandTimedOut)
	assert.Equal(t, CommandTimedOut, cmd.Status())
}

func TestCommandCancelIsIdempotentAndTerminal(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{7}, nil, time.Second)
	require.NoError(t, err)
	cmd.Cancel()
	cmd.Cancel()
	assert.Equal(t, CommandCancelled, cmd.Status())
	assert.ErrorIs(t, cmd.Wait(context.Background()), ErrCommandCancelled)
}

func TestCommandIgnoresReplyFromUnrelatedPositioner(t *testing.T) {
	cmd, err := NewCommand(GetStatus, []uint16{7}, nil, time.Second)
	require.NoError(t, err)
	msgs, err := cmd.GetMessages(nil, 6)
	require.NoError(t, err)
	cmd.Run()

	cmd.ProcessReply(Reply{PositionerID: 99, CommandID: uint16(GetStatus), UID: msgs[0].UID, ResponseCode: CommandAccepted}, 1)
	assert.Equal(t, CommandRunning, cmd.Status())
}
