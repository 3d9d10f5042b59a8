// Package virtual implements an in-process loopback CAN bus, used by tests
// and by simulators that stand in for real positioner firmware.
package virtual

import (
	"sync"

	can "github.com/sdss/fps-core/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
}

// Broker fans frames sent on one Bus to every other Bus sharing the same
// channel name, so multiple in-process participants (an FPS instance and a
// positioner simulator) can exchange frames without a real network.
type Broker struct {
	mu    sync.Mutex
	buses map[string][]*Bus
}

var defaultBroker = &Broker{buses: make(map[string][]*Bus)}

func (b *Broker) register(channel string, bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buses[channel] = append(b.buses[channel], bus)
}

func (b *Broker) unregister(channel string, bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.buses[channel]
	for i, p := range peers {
		if p == bus {
			b.buses[channel] = append(peers[:i], peers[i+1:]...)
			return
		}
	}
}

func (b *Broker) deliver(channel string, from *Bus, frame can.Frame) {
	b.mu.Lock()
	peers := append([]*Bus(nil), b.buses[channel]...)
	b.mu.Unlock()

	for _, peer := range peers {
		if peer == from {
			continue
		}
		peer.receive(frame)
	}
}

// Bus is an in-process loopback CAN bus. Every Bus opened on the same
// channel name and broker receives every frame sent by the others.
type Bus struct {
	channel string
	broker  *Broker

	mu        sync.Mutex
	listener  can.FrameListener
	isRunning bool
	recvOwn   bool
}

// NewBus matches can.NewBusFunc; args["receive_own"]=="true" makes the bus
// also deliver its own outbound frames back to its listener (useful for
// exercising notifier fan-out in isolation).
func NewBus(channel string, args map[string]string) (can.Bus, error) {
	b := &Bus{channel: channel, broker: defaultBroker}
	if args != nil && args["receive_own"] == "true" {
		b.recvOwn = true
	}
	return b, nil
}

func (b *Bus) Open() error {
	b.broker.register(b.channel, b)
	b.mu.Lock()
	b.isRunning = true
	b.mu.Unlock()
	return nil
}

func (b *Bus) Close() error {
	b.broker.unregister(b.channel, b)
	b.mu.Lock()
	b.isRunning = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	if b.recvOwn {
		b.receive(frame)
	}
	b.broker.deliver(b.channel, b, frame)
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) receive(frame can.Frame) {
	b.mu.Lock()
	listener := b.listener
	running := b.isRunning
	b.mu.Unlock()

	if running && listener != nil {
		listener.Handle(frame, 0)
	}
}
