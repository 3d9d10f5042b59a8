// Package socketcan implements the can.Bus interface on top of a real Linux
// SocketCAN interface, via github.com/brutella/can.
package socketcan

import (
	sockcan "github.com/brutella/can"

	can "github.com/sdss/fps-core/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

// Bus wraps a brutella/can bus bound to a named Linux network interface
// (e.g. "can0").
type Bus struct {
	bus        *sockcan.Bus
	rxListener can.FrameListener
}

// NewBus matches can.NewBusFunc. channel is the Linux interface name; args
// is unused for this variant.
func NewBus(channel string, args map[string]string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Open() error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Close() error {
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.rxListener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface.
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.rxListener == nil {
		return
	}
	b.rxListener.Handle(can.Frame{
		ID:    frame.ID,
		DLC:   frame.Length,
		Flags: frame.Flags,
		Data:  frame.Data,
	}, 0)
}
