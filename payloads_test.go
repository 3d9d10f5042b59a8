package fps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMotorSteps = int64(1) << 30

func TestAngleStepsRoundTrip(t *testing.T) {
	steps := AngleToSteps(90, testMotorSteps)
	got := StepsToAngle(steps, testMotorSteps)
	assert.InDelta(t, 90.0, got, 1e-3)
}

func TestEncodeDecodePositionRoundTrip(t *testing.T) {
	payload := encodeGotoAbsolutePayload(90, 20, testMotorSteps)
	// encodeGotoAbsolutePayload is alpha-first; decodePositionReply is
	// beta-first, so decoding the goto payload directly would swap the
	// arms. Build a position reply payload (beta-first) from the same
	// angles to exercise the actual wire convention.
	betaFirst := make([]byte, 8)
	copy(betaFirst[0:4], payload[4:8]) // beta steps
	copy(betaFirst[4:8], payload[0:4]) // alpha steps

	alpha, beta, err := decodePositionReply(betaFirst, testMotorSteps)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, alpha, 1e-3)
	assert.InDelta(t, 20.0, beta, 1e-3)
}

func TestDecodePositionReplyTooShort(t *testing.T) {
	_, _, err := decodePositionReply([]byte{1, 2, 3}, testMotorSteps)
	assert.Error(t, err)
}

func TestDecodeFirmwareVersion(t *testing.T) {
	fw, err := decodeFirmwareVersion([]byte{0, 4, 1, 23})
	require.NoError(t, err)
	assert.Equal(t, "04.01.23", fw)
}

func TestDecodeFirmwareVersionTooShort(t *testing.T) {
	_, err := decodeFirmwareVersion([]byte{0, 1})
	assert.Error(t, err)
}

func TestDecodeStatusWordPadsShortPayload(t *testing.T) {
	word := decodeStatusWord([]byte{1})
	assert.EqualValues(t, 1, word)
}

func TestEncodeSpeedAndCurrentPayloads(t *testing.T) {
	speed := encodeSpeedPayload(500, 1000)
	assert.Len(t, speed, 8)

	current := encodeCurrentPayload(20, 30)
	assert.Len(t, current, 8)
}
