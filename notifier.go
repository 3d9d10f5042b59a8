package fps

import (
	"sync"

	log "github.com/sirupsen/logrus"

	can "github.com/sdss/fps-core/pkg/can"
)

// ReplyListener receives every Reply decoded off every subscribed bus.
// HandleReply must not block for long; a slow listener should offload work
// rather than stall the others.
type ReplyListener interface {
	HandleReply(reply Reply)
}

// ReplyListenerFunc adapts a plain function to ReplyListener.
type ReplyListenerFunc func(Reply)

func (f ReplyListenerFunc) HandleReply(reply Reply) { f(reply) }

// Notifier fans inbound frames from every registered bus out to every
// registered listener, decoding each frame's identifier exactly once and
// dispatching to listeners concurrently so a slow listener never blocks
// the others or the bus reader.
type Notifier struct {
	ident *Identifier

	mu        sync.RWMutex
	listeners []ReplyListener
}

// NewNotifier builds a Notifier using ident to decode inbound arbitration
// ids.
func NewNotifier(ident *Identifier) *Notifier {
	return &Notifier{ident: ident}
}

// AddListener registers a listener. Safe to call after buses are already
// subscribed.
func (n *Notifier) AddListener(listener ReplyListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
}

// SubscribeBus registers the notifier as the sole frame listener on bus,
// tagging every frame it receives with interfaceIndex for multibus
// disambiguation.
func (n *Notifier) SubscribeBus(bus can.Bus, interfaceIndex int) error {
	return bus.Subscribe(&busReader{notifier: n, interfaceIndex: interfaceIndex})
}

// busReader adapts can.FrameListener.Handle to the notifier's fan-out.
type busReader struct {
	notifier       *Notifier
	interfaceIndex int
}

func (r *busReader) Handle(frame can.Frame, busIndex int) {
	r.notifier.dispatch(frame, r.interfaceIndex, busIndex)
}

func (n *Notifier) dispatch(frame can.Frame, interfaceIndex, busIndex int) {
	reply := DecodeReply(n.ident, frame, interfaceIndex, busIndex)

	n.mu.RLock()
	listeners := make([]ReplyListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, listener := range listeners {
		listener := listener
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Error("notifier listener panicked")
				}
			}()
			listener.HandleReply(reply)
		}()
	}
}
