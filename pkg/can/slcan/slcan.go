// Package slcan implements the can.Bus interface over an SLCAN-protocol
// serial adapter (e.g. Lawicel/CANUSB dongles), using
// github.com/tarm/serial for the underlying transport.
package slcan

import (
	"bufio"
	"fmt"
	"strconv"
	"sync"

	"github.com/tarm/serial"

	can "github.com/sdss/fps-core/pkg/can"
)

func init() {
	can.RegisterInterface("slcan", NewBus)
}

const defaultBaud = 1000000

// Bus is a single SLCAN channel reached over a serial port. Only extended
// (29-bit) data frames are supported, matching the rest of this module.
type Bus struct {
	portName string
	baud     int

	mu       sync.Mutex
	port     *serial.Port
	listener can.FrameListener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBus matches can.NewBusFunc. channel is the serial device path
// (e.g. "/dev/ttyUSB0"); args["baud"] overrides the default bit rate.
func NewBus(channel string, args map[string]string) (can.Bus, error) {
	baud := defaultBaud
	if v, ok := args["baud"]; ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("slcan: invalid baud %q: %w", v, err)
		}
		baud = parsed
	}
	return &Bus{portName: channel, baud: baud}, nil
}

func (b *Bus) Open() error {
	port, err := serial.OpenPort(&serial.Config{Name: b.portName, Baud: b.baud})
	if err != nil {
		return fmt.Errorf("slcan: opening %s: %w", b.portName, err)
	}

	// "O\r" opens the CAN channel at whatever bitrate the adapter was
	// already configured for.
	if _, err := port.Write([]byte("O\r")); err != nil {
		port.Close()
		return fmt.Errorf("slcan: opening channel: %w", err)
	}

	b.mu.Lock()
	b.port = port
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(port, b.stopCh)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	port := b.port
	stopCh := b.stopCh
	b.port = nil
	b.mu.Unlock()

	if port == nil {
		return nil
	}
	if stopCh != nil {
		close(stopCh)
	}
	port.Write([]byte("C\r"))
	err := port.Close()
	b.wg.Wait()
	return err
}

// Send encodes frame as an SLCAN extended-frame transmit command:
// "T" + 8 hex digit id + 1 digit DLC + 2*DLC hex digits + "\r".
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return fmt.Errorf("slcan: bus not open")
	}

	line := fmt.Sprintf("T%08X%d", frame.ID, frame.DLC)
	for i := 0; i < int(frame.DLC); i++ {
		line += fmt.Sprintf("%02X", frame.Data[i])
	}
	line += "\r"

	_, err := port.Write([]byte(line))
	return err
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) readLoop(port *serial.Port, stopCh chan struct{}) {
	defer b.wg.Done()
	scanner := bufio.NewScanner(port)
	scanner.Split(scanSlcanLines)

	for scanner.Scan() {
		select {
		case <-stopCh:
			return
		default:
		}

		frame, ok := parseFrame(scanner.Text())
		if !ok {
			continue
		}

		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame, 0)
		}
	}
}

// scanSlcanLines splits on '\r', the SLCAN line terminator.
func scanSlcanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, c := range data {
		if c == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseFrame decodes an SLCAN "T" (extended data frame) line. Other line
// types ("t" standard frame, status replies, 'z'/'Z' acks) are ignored;
// this bus variant only speaks the 29-bit identifiers the rest of this
// module uses.
func parseFrame(line string) (can.Frame, bool) {
	if len(line) < 1+8+1 || line[0] != 'T' {
		return can.Frame{}, false
	}

	id, err := strconv.ParseUint(line[1:9], 16, 32)
	if err != nil {
		return can.Frame{}, false
	}
	dlc, err := strconv.Atoi(line[9:10])
	if err != nil || dlc < 0 || dlc > 8 {
		return can.Frame{}, false
	}

	want := 10 + dlc*2
	if len(line) < want {
		return can.Frame{}, false
	}

	frame := can.Frame{ID: uint32(id), DLC: uint8(dlc)}
	for i := 0; i < dlc; i++ {
		b, err := strconv.ParseUint(line[10+i*2:12+i*2], 16, 8)
		if err != nil {
			return can.Frame{}, false
		}
		frame.Data[i] = byte(b)
	}
	return frame, true
}
