// Package cannet implements the can.MultiBus interface for an EMS CAN@net
// TCP-to-CAN gateway, which multiplexes several physical CAN buses behind
// one TCP connection and speaks a line-oriented ASCII protocol for both
// data frames and device status.
package cannet

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sdss/fps-core/internal/fifo"
	can "github.com/sdss/fps-core/pkg/can"
)

func init() {
	can.RegisterInterface("cannet", NewBus)
}

const (
	lineBufferSize = 4096
	defaultBuses   = 2
)

// DeviceStatus is the last known state of one physical CAN bus on the
// gateway, as reported by its periodic "CAN <bus> STATUS" poll reply.
type DeviceStatus struct {
	BusOff              bool
	ErrorWarningLevel   bool
	DataOverrunDetected bool
	TransmitPending     bool
	InitState           bool
	Buffer              int
}

// Bus is a single CAN@net TCP gateway, exposing NumBuses independent CAN
// channels over one connection.
type Bus struct {
	addr    string
	numBus  int

	mu       sync.Mutex
	conn     net.Conn
	fifoBuf  *fifo.Fifo
	listener can.FrameListener
	status   map[int]DeviceStatus
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBus matches can.NewBusFunc. channel is "host:port"; args["buses"]
// overrides the default bus count (2, matching the CAN@net 420).
func NewBus(channel string, args map[string]string) (can.Bus, error) {
	numBus := defaultBuses
	if v, ok := args["buses"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("cannet: invalid buses %q: %w", v, err)
		}
		numBus = n
	}
	return &Bus{addr: channel, numBus: numBus, status: make(map[int]DeviceStatus)}, nil
}

func (b *Bus) Open() error {
	conn, err := net.Dial("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("cannet: dialing %s: %w", b.addr, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.fifoBuf = fifo.NewFifo(lineBufferSize)
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.writeLine("DEV IDENTIFY")
	b.writeLine("DEV VERSION")
	for bus := 0; bus < b.numBus; bus++ {
		b.writeLine(fmt.Sprintf("CAN %d INIT", bus))
	}

	b.wg.Add(1)
	go b.readLoop(conn, b.stopCh)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	conn := b.conn
	stopCh := b.stopCh
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	if stopCh != nil {
		close(stopCh)
	}
	err := conn.Close()
	b.wg.Wait()
	return err
}

func (b *Bus) NumBuses() int { return b.numBus }

// Send transmits on bus 0, the convention used by single-bus positioner
// groups talking to a CAN@net with only one channel wired up.
func (b *Bus) Send(frame can.Frame) error {
	return b.SendOnBus(frame, 0)
}

// SendOnBus encodes frame as "T <bus> <id_hex> <dlc> <data_hex...>".
func (b *Bus) SendOnBus(frame can.Frame, bus int) error {
	line := fmt.Sprintf("T %d %08X %d", bus, frame.ID, frame.DLC)
	for i := 0; i < int(frame.DLC); i++ {
		line += fmt.Sprintf(" %02X", frame.Data[i])
	}
	return b.writeLine(line)
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

// Status returns the last known status of the given physical bus.
func (b *Bus) Status(bus int) (DeviceStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.status[bus]
	return s, ok
}

// PollStatus requests a fresh status line from every physical bus. This
// package schedules no timer of its own; a fresh status arrives only when
// a caller invokes PollStatus.
func (b *Bus) PollStatus() error {
	for bus := 0; bus < b.numBus; bus++ {
		if err := b.writeLine(fmt.Sprintf("CAN %d STATUS", bus)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) writeLine(line string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("cannet: bus not open")
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// readLoop reads raw bytes off the socket into the fifo ring buffer and
// extracts complete CRLF-terminated lines as they become available,
// leaving a trailing partial line buffered for the next read.
func (b *Bus) readLoop(conn net.Conn, stopCh chan struct{}) {
	defer b.wg.Done()
	chunk := make([]byte, 512)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := conn.Read(chunk)
		if err != nil {
			if err != net.ErrClosed {
				log.WithError(err).Debug("cannet: read error, closing")
			}
			return
		}

		b.mu.Lock()
		written := b.fifoBuf.Write(chunk[:n], nil)
		b.mu.Unlock()
		if written < n {
			log.Warn("cannet: line buffer full, dropping bytes")
		}

		for {
			line, ok := b.nextLine()
			if !ok {
				break
			}
			b.handleLine(line)
		}
	}
}

// nextLine extracts and consumes the next complete '\n'-terminated line
// buffered in the fifo, using its alternate-read cursor to scan without
// committing bytes that turn out to belong to a still-incomplete line.
func (b *Bus) nextLine() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fifoBuf.AltBegin(0)
	var line []byte
	one := make([]byte, 1)

	for b.fifoBuf.AltGetOccupied() > 0 {
		if n := b.fifoBuf.AltRead(one); n == 0 {
			break
		}
		if one[0] == '\n' {
			b.fifoBuf.AltFinish(nil)
			return strings.TrimRight(string(line), "\r"), true
		}
		line = append(line, one[0])
	}
	return "", false
}

func (b *Bus) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if frame, bus, ok := parseDataLine(line); ok {
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame, bus)
		}
		return
	}

	if bus, status, ok := parseStatusLine(line); ok {
		b.mu.Lock()
		b.status[bus] = status
		b.mu.Unlock()
		return
	}

	log.WithField("line", line).Debug("cannet: unparsed device message")
}

// parseDataLine parses "T <bus> <id_hex> <dlc> <data_hex...>" inbound data
// frame lines.
func parseDataLine(line string) (can.Frame, int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "T" {
		return can.Frame{}, 0, false
	}

	bus, err := strconv.Atoi(fields[1])
	if err != nil {
		return can.Frame{}, 0, false
	}
	id, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return can.Frame{}, 0, false
	}
	dlc, err := strconv.Atoi(fields[3])
	if err != nil || dlc < 0 || dlc > 8 || len(fields) < 4+dlc {
		return can.Frame{}, 0, false
	}

	frame := can.Frame{ID: uint32(id), DLC: uint8(dlc)}
	for i := 0; i < dlc; i++ {
		v, err := strconv.ParseUint(fields[4+i], 16, 8)
		if err != nil {
			return can.Frame{}, 0, false
		}
		frame.Data[i] = byte(v)
	}
	return frame, bus, true
}

// parseStatusLine parses "R CAN <bus> <status5> <buffer>", where status5 is
// five characters, each '-' for false and any other rune for true, in the
// order bus_off/error_warning/data_overrun/transmit_pending/init_state.
func parseStatusLine(line string) (int, DeviceStatus, bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != "R" || fields[1] != "CAN" {
		return 0, DeviceStatus{}, false
	}

	bus, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, DeviceStatus{}, false
	}
	flags := fields[3]
	if len(flags) != 5 {
		return 0, DeviceStatus{}, false
	}
	buffer, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, DeviceStatus{}, false
	}

	status := DeviceStatus{
		BusOff:              flags[0] != '-',
		ErrorWarningLevel:   flags[1] != '-',
		DataOverrunDetected: flags[2] != '-',
		TransmitPending:     flags[3] != '-',
		InitState:           flags[4] != '-',
		Buffer:              buffer,
	}
	return bus, status, true
}
