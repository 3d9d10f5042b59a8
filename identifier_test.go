package fps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierEncodeDecodeRoundTrip(t *testing.T) {
	ident, err := NewIdentifier(6)
	require.NoError(t, err)

	id, err := ident.Encode(123, 30, 5, 0)
	require.NoError(t, err)

	pid, cmd, uid, rc := ident.Decode(id)
	assert.EqualValues(t, 123, pid)
	assert.EqualValues(t, 30, cmd)
	assert.EqualValues(t, 5, uid)
	assert.EqualValues(t, 0, rc)
}

func TestIdentifierEncodeOverflow(t *testing.T) {
	ident, err := NewIdentifier(6)
	require.NoError(t, err)

	_, err = ident.Encode(1<<PositionerIDBits, 0, 0, 0)
	assert.ErrorIs(t, err, ErrIllegalIdentifierField)

	_, err = ident.Encode(0, 1<<CommandIDBits, 0, 0)
	assert.ErrorIs(t, err, ErrIllegalIdentifierField)

	_, err = ident.Encode(0, 0, 1<<6, 0)
	assert.ErrorIs(t, err, ErrIllegalIdentifierField)

	_, err = ident.Encode(0, 0, 0, 1<<ResponseCodeBits)
	assert.ErrorIs(t, err, ErrIllegalIdentifierField)
}

func TestNewIdentifierTooWide(t *testing.T) {
	_, err := NewIdentifier(20)
	assert.ErrorIs(t, err, ErrUIDWidthTooWide)
}

func TestNewIdentifierDefaultsUIDWidth(t *testing.T) {
	ident, err := NewIdentifier(0)
	require.NoError(t, err)
	assert.EqualValues(t, DefaultUIDBits, ident.UIDBits)
}

func TestCommandKeyDistinguishesBroadcastFromUnicast(t *testing.T) {
	broadcast := CommandKey(0, 3, 1)
	unicast := CommandKey(5, 3, 1)
	assert.NotEqual(t, broadcast, unicast)
}
