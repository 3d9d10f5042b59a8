package fps

import can "github.com/sdss/fps-core/pkg/can"

// Message is an outbound CAN frame paired with the fields needed to encode
// its arbitration id once a UID has been assigned.
type Message struct {
	PositionerID uint16
	CommandID    uint16
	UID          uint32
	Data         []byte

	// Bus names a bus index of a multibus interface (cannet). The CAN
	// manager does not set it: it sends every frame with Bus.Send, which
	// uses bus 0 of the chosen interface.
	Bus int
}

// Frame encodes the message into a can.Frame ready to send.
func (m Message) Frame(ident *Identifier) (can.Frame, error) {
	id, err := ident.Encode(m.PositionerID, m.CommandID, m.UID, uint8(CommandAccepted))
	if err != nil {
		return can.Frame{}, err
	}
	return can.NewFrame(id, m.Data), nil
}

// Reply is a decoded inbound frame.
type Reply struct {
	PositionerID   uint16
	CommandID      uint16
	UID            uint32
	ResponseCode   ResponseCode
	Data           []byte
	InterfaceIndex int
	Bus            int
}

// DecodeReply decodes a raw frame received on the given interface/bus index
// into a Reply.
func DecodeReply(ident *Identifier, frame can.Frame, interfaceIndex, bus int) Reply {
	pid, cmd, uid, rc := ident.Decode(frame.ID)
	data := make([]byte, frame.DLC)
	copy(data, frame.Data[:frame.DLC])
	return Reply{
		PositionerID:   pid,
		CommandID:      cmd,
		UID:            uid,
		ResponseCode:   ResponseCode(rc),
		Data:           data,
		InterfaceIndex: interfaceIndex,
		Bus:            bus,
	}
}
