package fps

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	can "github.com/sdss/fps-core/pkg/can"
)

// busBinding pairs an opened bus with the interface name it was configured
// under (used only for log context; routing is by index).
type busBinding struct {
	name string
	bus  can.Bus
}

// CANManager owns every open CAN interface, the notifier, and the
// command_queue/running_commands pair that together implement the single
// dispatcher described by the FPS protocol. All mutation of running
// commands happens either from the dispatcher goroutine or from reply
// delivery; both paths take manager.mu, since the notifier dispatches
// listeners concurrently.
type CANManager struct {
	ident   *Identifier
	uidBits uint

	notifier *Notifier
	buses    []busBinding

	mu              sync.Mutex
	runningCommands map[uint64]*Command
	positionerToBus map[uint16]int

	commandQueue chan *Command
	stopCh       chan struct{}
	wg           sync.WaitGroup

	// NumPositioners returns the count used to compute broadcast
	// completion (n_messages * n_positioners). Set by the FPS supervisor
	// after positioners are known.
	NumPositioners func() int

	// OnCollision is invoked for every inbound COLLISION_DETECTED reply;
	// the manager does not check whether the FPS is already locked. Set by
	// the FPS supervisor.
	OnCollision func(positionerID uint16)

	log *log.Entry
}

// NewCANManager builds an (unopened) manager for the given UID bit width.
func NewCANManager(uidBits uint) (*CANManager, error) {
	ident, err := NewIdentifier(uidBits)
	if err != nil {
		return nil, err
	}
	m := &CANManager{
		ident:           ident,
		uidBits:         ident.UIDBits,
		notifier:        NewNotifier(ident),
		runningCommands: make(map[uint64]*Command),
		positionerToBus: make(map[uint16]int),
		commandQueue:    make(chan *Command, 1024),
		stopCh:          make(chan struct{}),
		log:             log.WithField("component", "can_manager"),
	}
	m.notifier.AddListener(ReplyListenerFunc(m.handleReply))
	return m, nil
}

// OpenChannel opens one configured CAN interface. Failures are logged and
// the manager continues with whatever channels did open successfully,
// matching the startup policy of tolerating partial interface failure.
func (m *CANManager) OpenChannel(variant, channel string, args map[string]string) {
	bus, err := can.NewBus(variant, channel, args)
	if err != nil {
		m.log.WithError(err).WithField("interface", variant).Error("failed to construct CAN interface")
		return
	}
	if err := bus.Open(); err != nil {
		m.log.WithError(err).WithField("interface", variant).Error("failed to open CAN interface")
		return
	}

	interfaceIndex := len(m.buses)
	if err := m.notifier.SubscribeBus(bus, interfaceIndex); err != nil {
		m.log.WithError(err).Error("failed to subscribe to CAN interface")
		return
	}
	m.buses = append(m.buses, busBinding{name: variant, bus: bus})
	m.log.WithFields(log.Fields{"interface": variant, "channel": channel}).Info("CAN interface opened")
}

// SetPositionerBus records which opened interface index reaches a given
// positioner, resolved by the FPS during broadcast GET_ID at startup.
func (m *CANManager) SetPositionerBus(positionerID uint16, interfaceIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionerToBus[positionerID] = interfaceIndex
}

// Start launches the single dispatcher goroutine and the running-commands
// garbage collector.
func (m *CANManager) Start() {
	m.wg.Add(2)
	go m.dispatchLoop()
	go m.gcLoop()
}

// Stop signals the dispatcher and garbage collector to exit, closes every
// bus, and waits for both background goroutines to return.
func (m *CANManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	for _, b := range m.buses {
		if err := b.bus.Close(); err != nil {
			m.log.WithError(err).WithField("interface", b.name).Warn("error closing CAN interface")
		}
	}
}

// Enqueue pushes a command onto the FIFO command queue for transmission.
func (m *CANManager) Enqueue(cmd *Command) {
	select {
	case m.commandQueue <- cmd:
	default:
		m.log.Warn("command queue full, dropping command")
		cmd.Cancel()
	}
}

// SendNow bypasses the queue and transmits cmd synchronously. Used for
// emergency commands that must not wait behind queued traffic.
func (m *CANManager) SendNow(cmd *Command, allPositionerIDs []uint16) error {
	return m.dispatch(cmd, allPositionerIDs)
}

func (m *CANManager) dispatchLoop() {
	defer m.wg.Done()
	var allPositionerIDs []uint16

	for {
		select {
		case <-m.stopCh:
			return
		case cmd := <-m.commandQueue:
			status := cmd.Status()
			if status != CommandReady {
				if status != CommandCancelled {
					cmd.Cancel()
				}
				continue
			}

			if cmd.IsBroadcast() {
				allPositionerIDs = m.knownPositionerIDs()
			}

			if err := m.dispatch(cmd, allPositionerIDs); err != nil {
				if err == ErrUIDPoolExhausted && cmd.IsBroadcast() {
					time.AfterFunc(time.Second, func() { m.Enqueue(cmd) })
				} else {
					m.log.WithError(err).WithField("command", cmd.Descriptor.Name).Error("dispatch failed")
					cmd.Cancel()
				}
			}
		}
	}
}

func (m *CANManager) knownPositionerIDs() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint16, 0, len(m.positionerToBus))
	for id := range m.positionerToBus {
		ids = append(ids, id)
	}
	return ids
}

func (m *CANManager) dispatch(cmd *Command, allPositionerIDs []uint16) error {
	messages, err := cmd.GetMessages(allPositionerIDs, m.uidBits)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, msg := range messages {
		key := CommandKey(msg.PositionerID, msg.CommandID, msg.UID)
		m.runningCommands[key] = cmd
	}
	m.mu.Unlock()

	for _, msg := range messages {
		frame, err := msg.Frame(m.ident)
		if err != nil {
			return err
		}
		if err := m.sendFrame(frame, cmd.IsBroadcast(), msg.PositionerID); err != nil {
			return fmt.Errorf("%w: %v", ErrBusSendFailed, err)
		}
	}

	cmd.Run()
	return nil
}

func (m *CANManager) sendFrame(frame can.Frame, broadcast bool, positionerID uint16) error {
	if len(m.buses) == 0 {
		return fmt.Errorf("no CAN interfaces open")
	}

	if broadcast {
		var firstErr error
		for _, b := range m.buses {
			if err := b.bus.Send(frame); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	m.mu.Lock()
	idx, known := m.positionerToBus[positionerID]
	m.mu.Unlock()
	if !known {
		var firstErr error
		for _, b := range m.buses {
			if err := b.bus.Send(frame); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	if idx >= len(m.buses) {
		idx = 0
	}
	return m.buses[idx].bus.Send(frame)
}

func (m *CANManager) handleReply(reply Reply) {
	if reply.CommandID == 0 {
		return
	}

	if CommandID(reply.CommandID) == CollisionDetected {
		if m.OnCollision != nil {
			m.OnCollision(reply.PositionerID)
		}
		return
	}

	nExpected := 1
	if m.NumPositioners != nil {
		nExpected = m.NumPositioners()
	}

	unicastKey := CommandKey(reply.PositionerID, reply.CommandID, reply.UID)
	broadcastKey := CommandKey(0, reply.CommandID, reply.UID)

	m.mu.Lock()
	cmd, ok := m.runningCommands[unicastKey]
	if !ok {
		cmd, ok = m.runningCommands[broadcastKey]
	}
	m.mu.Unlock()

	if !ok {
		m.log.WithFields(log.Fields{
			"positioner_id": reply.PositionerID,
			"command_id":    reply.CommandID,
			"uid":           reply.UID,
		}).Debug("reply does not match any running command, dropping")
		return
	}

	cmd.ProcessReply(reply, nExpected)
}

func (m *CANManager) gcLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			for key, cmd := range m.runningCommands {
				if cmd.Status().IsDone() {
					delete(m.runningCommands, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
