package messaging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWithPrefixRoundTrips(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	wire := EncodeWithPrefix(CodecJSON, payload)

	codec, body, err := DecodeWithPrefix(wire)
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, codec)
	assert.Equal(t, payload, body)
}

func TestDecodeWithPrefixEmptyPayloadErrors(t *testing.T) {
	_, _, err := DecodeWithPrefix(nil)
	assert.Error(t, err)
}

func TestCodecRecognized(t *testing.T) {
	for _, c := range []Codec{CodecRaw, CodecJSON, CodecCBOR, CodecMessagePack, CodecProtobuf, CodecBorsh, CodecBincode} {
		assert.True(t, c.Recognized(), "codec %s", c)
	}
	assert.False(t, Codec(0x12345).Recognized())
}

func TestWriteReadPrefixedRoundTrips(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	buf := &bytes.Buffer{}
	require.NoError(t, WritePrefixed(buf, CodecRaw, payload))

	codec, body, err := ReadPrefixed(buf)
	require.NoError(t, err)
	assert.Equal(t, CodecRaw, codec)
	assert.Equal(t, payload, body)
}
