package fps

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

var commandUIDCounter uint64

func nextCommandUID() uint64 {
	return atomic.AddUint64(&commandUIDCounter, 1)
}

// Command is a stateful request composed of one or more outgoing Messages.
// It tracks replies against the messages it sent and resolves to a terminal
// CommandStatus exactly once.
type Command struct {
	Descriptor    CommandDescriptor
	PositionerIDs []uint16 // single 0 entry means broadcast
	Data          [][]byte
	Timeout       time.Duration
	CommandUID    uint64

	mu          sync.Mutex
	status      CommandStatus
	replies     []Reply
	messageUIDs []uint32
	nMessages   int
	timer       *time.Timer
	done        chan struct{}
	doneOnce    sync.Once
	err         error
	log         *log.Entry
}

// IsBroadcast reports whether this command targets every positioner rather
// than a specific set.
func (c *Command) IsBroadcast() bool {
	return len(c.PositionerIDs) == 1 && c.PositionerIDs[0] == 0
}

// NewCommand validates and builds a Command. Each blob in data is sent once
// to every target positioner; a single blob is replicated to every target.
func NewCommand(id CommandID, positionerIDs []uint16, data [][]byte, timeout time.Duration) (*Command, error) {
	desc, err := LookupCommand(id)
	if err != nil {
		return nil, err
	}

	broadcast := len(positionerIDs) == 1 && positionerIDs[0] == 0
	if broadcast && !desc.Broadcastable {
		return nil, fmt.Errorf("%w: %s", ErrNotBroadcastable, desc.Name)
	}
	if timeout < 0 {
		timeout = -1
	}

	commandUID := nextCommandUID()
	return &Command{
		Descriptor:    desc,
		PositionerIDs: positionerIDs,
		Data:          data,
		Timeout:       timeout,
		CommandUID:    commandUID,
		status:        CommandReady,
		done:          make(chan struct{}),
		log: log.WithFields(log.Fields{
			"command":     desc.Name,
			"command_uid": commandUID,
		}),
	}, nil
}

// Status returns the command's current lifecycle state.
func (c *Command) Status() CommandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Replies returns a snapshot of the replies received so far.
func (c *Command) Replies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reply, len(c.replies))
	copy(out, c.replies)
	return out
}

// GetMessages emits the outgoing Messages for this command, assigning each
// a fresh UID in 0..n-1. Messages go to the command's own PositionerIDs; a
// broadcast command therefore emits one message (positioner id 0) per
// payload blob. positioners is not used to pick the targets.
func (c *Command) GetMessages(positioners []uint16, uidBits uint) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets := c.PositionerIDs

	payloads := c.Data
	if len(payloads) == 0 {
		payloads = [][]byte{nil}
	}

	var messages []Message
	uid := uint32(0)
	maxUID := uint32(1) << uidBits

	for _, pid := range targets {
		for _, payload := range payloads {
			if uid >= maxUID {
				return nil, fmt.Errorf("%w: %s needs %d uids, pool is %d wide",
					ErrUIDPoolExhausted, c.Descriptor.Name, len(targets)*len(payloads), maxUID)
			}
			msgPID := pid
			if c.IsBroadcast() {
				msgPID = 0
			}
			messages = append(messages, Message{
				PositionerID: msgPID,
				CommandID:    uint16(c.Descriptor.ID),
				UID:          uid,
				Data:         payload,
			})
			c.messageUIDs = append(c.messageUIDs, uid)
			uid++
		}
	}

	c.nMessages = len(messages)
	return messages, nil
}

// Run arms the completion timer and transitions READY -> RUNNING. Called by
// the CAN manager's dispatcher once messages have been sent. Idempotent.
func (c *Command) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != CommandReady {
		return
	}
	c.status = CommandRunning

	if c.Timeout == 0 {
		c.finishLocked(CommandDone, nil)
		return
	}
	if c.Timeout > 0 {
		c.timer = time.AfterFunc(c.Timeout, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.finishLocked(CommandTimedOut, ErrCommandTimedOut)
		})
	}
}

// ProcessReply appends an inbound reply and evaluates completion.
// nExpectedPositioners is the number of positioners a broadcast expects to
// hear from: a unicast command is done after n_messages replies, a
// broadcast after n_messages * nExpectedPositioners.
func (c *Command) ProcessReply(reply Reply, nExpectedPositioners int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsDone() {
		return
	}
	if c.status == CommandReady {
		c.status = CommandRunning
	}
	if !c.IsBroadcast() {
		found := false
		for _, pid := range c.PositionerIDs {
			if pid == reply.PositionerID {
				found = true
				break
			}
		}
		if !found {
			c.log.WithField("positioner_id", reply.PositionerID).Warn("reply from unexpected positioner")
			return
		}
	}

	c.replies = append(c.replies, reply)

	if reply.ResponseCode != CommandAccepted {
		c.finishLocked(CommandFailed, fmt.Errorf("%w: %s from positioner %d",
			ErrCommandFailed, reply.ResponseCode, reply.PositionerID))
		return
	}

	wantReplies := c.nMessages
	if c.IsBroadcast() {
		wantReplies = c.nMessages * nExpectedPositioners
	}
	if wantReplies > 0 && len(c.replies) >= wantReplies && c.allUIDsAccounted(nExpectedPositioners) {
		c.finishLocked(CommandDone, nil)
	}
}

// allUIDsAccounted reports whether every assigned UID (times the expected
// positioner count for broadcasts) has a matching reply.
func (c *Command) allUIDsAccounted(nExpectedPositioners int) bool {
	want := len(c.messageUIDs)
	if c.IsBroadcast() {
		want *= nExpectedPositioners
	}
	if len(c.replies) < want {
		return false
	}

	got := make([]uint32, 0, len(c.replies))
	for _, r := range c.replies {
		got = append(got, r.UID)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	expected := make([]uint32, 0, want)
	for i := 0; i < want; i++ {
		if c.IsBroadcast() {
			expected = append(expected, c.messageUIDs[i%len(c.messageUIDs)])
		} else {
			expected = append(expected, c.messageUIDs[i])
		}
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })

	for i := range expected {
		if i >= len(got) || got[i] != expected[i] {
			return false
		}
	}
	return true
}

// Cancel forces the command into a terminal state. Safe to call at any
// time; a no-op if the command is already done.
func (c *Command) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(CommandCancelled, ErrCommandCancelled)
}

func (c *Command) finishLocked(status CommandStatus, err error) {
	if c.status.IsDone() {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.status = status
	c.err = err
	c.doneOnce.Do(func() { close(c.done) })
}

// Wait blocks until the command reaches a terminal state or ctx is done,
// whichever comes first.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
