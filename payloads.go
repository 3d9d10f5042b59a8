package fps

import (
	"encoding/binary"
	"fmt"
)

// decodeStatusWord interprets a GET_STATUS reply payload (little-endian,
// as wide as the firmware sends, padded to 8 bytes) as a raw status word.
func decodeStatusWord(data []byte) uint64 {
	var buf [8]byte
	n := copy(buf[:], data)
	_ = n
	return binary.LittleEndian.Uint64(buf[:])
}

// decodeFirmwareVersion formats a GET_FIRMWARE_VERSION reply's bytes[1:4]
// as "MM.mm.pp", two decimal digits per byte.
func decodeFirmwareVersion(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("firmware reply too short: %d bytes", len(data))
	}
	return fmt.Sprintf("%02d.%02d.%02d", data[1], data[2], data[3]), nil
}

// decodePositionReply decodes a GET_ACTUAL_POSITION reply: beta first, then
// alpha, each a little-endian int32 in motor steps.
func decodePositionReply(data []byte, motorSteps int64) (alphaDeg, betaDeg float64, err error) {
	if len(data) < 8 {
		return 0, 0, fmt.Errorf("position reply too short: %d bytes", len(data))
	}
	betaSteps := int32(binary.LittleEndian.Uint32(data[0:4]))
	alphaSteps := int32(binary.LittleEndian.Uint32(data[4:8]))
	return StepsToAngle(alphaSteps, motorSteps), StepsToAngle(betaSteps, motorSteps), nil
}

// encodeGotoAbsolutePayload packs an absolute-move command payload:
// alpha-first, each a little-endian int32 in motor steps.
func encodeGotoAbsolutePayload(alphaDeg, betaDeg float64, motorSteps int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(AngleToSteps(alphaDeg, motorSteps)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(AngleToSteps(betaDeg, motorSteps)))
	return buf
}

// encodeSpeedPayload packs a SET_SPEED payload: two little-endian uint32
// RPM values, alpha then beta.
func encodeSpeedPayload(alphaRPM, betaRPM float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(alphaRPM))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(betaRPM))
	return buf
}

// encodeCurrentPayload packs a SET_CURRENT/SET_HOLDING_CURRENT payload: two
// little-endian uint32 percentage values, alpha then beta.
func encodeCurrentPayload(alpha, beta float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(alpha))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(beta))
	return buf
}
