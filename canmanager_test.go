package fps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	can "github.com/sdss/fps-core/pkg/can"
	_ "github.com/sdss/fps-core/pkg/can/virtual"
)

// fakeFirmware simulates a positioner's firmware on a virtual bus: it
// accepts every frame addressed to it (or broadcast) and replies with
// COMMAND_ACCEPTED, echoing the command and uid back.
type fakeFirmware struct {
	bus   can.Bus
	ident *Identifier
	pid   uint16
}

func newFakeFirmware(t *testing.T, channel string, ident *Identifier, pid uint16) *fakeFirmware {
	t.Helper()
	bus, err := can.NewBus("virtual", channel, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Open())
	t.Cleanup(func() { bus.Close() })

	f := &fakeFirmware{bus: bus, ident: ident, pid: pid}
	require.NoError(t, bus.Subscribe(f))
	return f
}

func (f *fakeFirmware) Handle(frame can.Frame, busIndex int) {
	pid, cmd, uid, _ := f.ident.Decode(frame.ID)
	if pid != 0 && pid != f.pid {
		return
	}
	id, err := f.ident.Encode(f.pid, cmd, uid, uint8(CommandAccepted))
	if err != nil {
		return
	}
	f.bus.Send(can.NewFrame(id, nil))
}

func TestCANManagerUnicastRoundtrip(t *testing.T) {
	mgr, err := NewCANManager(6)
	require.NoError(t, err)
	mgr.OpenChannel("virtual", "canmanager-unicast", nil)
	mgr.NumPositioners = func() int { return 1 }
	mgr.Start()
	defer mgr.Stop()

	newFakeFirmware(t, "canmanager-unicast", mgr.ident, 5)
	mgr.SetPositionerBus(5, 0)

	cmd, err := NewCommand(GetStatus, []uint16{5}, nil, 2*time.Second)
	require.NoError(t, err)
	mgr.Enqueue(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cmd.Wait(ctx))
	assert.Equal(t, CommandDone, cmd.Status())
	assert.Len(t, cmd.Replies(), 1)
}

func TestCANManagerBroadcastRoundtrip(t *testing.T) {
	mgr, err := NewCANManager(6)
	require.NoError(t, err)
	mgr.OpenChannel("virtual", "canmanager-broadcast", nil)
	mgr.NumPositioners = func() int { return 2 }
	mgr.Start()
	defer mgr.Stop()

	newFakeFirmware(t, "canmanager-broadcast", mgr.ident, 1)
	newFakeFirmware(t, "canmanager-broadcast", mgr.ident, 2)
	mgr.SetPositionerBus(1, 0)
	mgr.SetPositionerBus(2, 0)

	cmd, err := NewCommand(GetStatus, []uint16{0}, nil, 2*time.Second)
	require.NoError(t, err)
	mgr.Enqueue(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cmd.Wait(ctx))
	assert.Equal(t, CommandDone, cmd.Status())
	assert.Len(t, cmd.Replies(), 2)
}

func TestCANManagerCollisionReplyInvokesHook(t *testing.T) {
	mgr, err := NewCANManager(6)
	require.NoError(t, err)
	mgr.OpenChannel("virtual", "canmanager-collision", nil)
	mgr.Start()
	defer mgr.Stop()

	collided := make(chan uint16, 1)
	mgr.OnCollision = func(positionerID uint16) { collided <- positionerID }

	bus, err := can.NewBus("virtual", "canmanager-collision", nil)
	require.NoError(t, err)
	require.NoError(t, bus.Open())
	defer bus.Close()

	id, err := mgr.ident.Encode(17, uint16(CollisionDetected), 0, uint8(CommandAccepted))
	require.NoError(t, err)
	require.NoError(t, bus.Send(can.NewFrame(id, nil)))

	select {
	case pid := <-collided:
		assert.Equal(t, uint16(17), pid)
	case <-time.After(2 * time.Second):
		t.Fatal("OnCollision was never invoked")
	}
}
