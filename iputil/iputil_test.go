package iputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDottedQuad(t *testing.T) {
	address, err := Parse("192.168.1.7")
	require.NoError(t, err)
	assert.Equal(t, []byte{192, 168, 1, 7}, address)
}

func TestParseRejectsMalformedText(t *testing.T) {
	_, err := Parse("not an address")
	assert.Error(t, err)

	_, err = Parse("::1")
	assert.Error(t, err)
}

func TestUint32Roundtrip(t *testing.T) {
	address := []byte{10, 20, 30, 40}
	assert.Equal(t, address, FromUint32(AsUint32(address)))
	assert.Equal(t, uint32(0), AsUint32([]byte{1, 2}))
}

func TestString(t *testing.T) {
	assert.Equal(t, "10.0.0.1", String([]byte{10, 0, 0, 1}))
}
