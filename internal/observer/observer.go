// Package observer defines the structured event stream the FPS supervisor
// and trajectory engine emit, which an external actor/CLI layer (out of
// scope here) would subscribe to.
package observer

// Event is one informational/warning/error occurrence, with optional
// structured context (positioner_id, command_uid, and similar fields).
type Event struct {
	Level   string // "debug" | "info" | "warning" | "error"
	Message string
	Fields  map[string]any
}

// Observer receives every Event the supervisor and trajectory engine emit.
type Observer interface {
	Notify(Event)
}

// Func adapts a plain function to Observer.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Broadcaster fans one Notify call out to every registered Observer.
type Broadcaster struct {
	observers []Observer
}

// NewBroadcaster builds a Broadcaster over the given observers.
func NewBroadcaster(observers ...Observer) *Broadcaster {
	return &Broadcaster{observers: observers}
}

// Add registers another observer.
func (b *Broadcaster) Add(o Observer) {
	b.observers = append(b.observers, o)
}

// Notify fans the event out to every registered observer.
func (b *Broadcaster) Notify(e Event) {
	for _, o := range b.observers {
		o.Notify(e)
	}
}
