package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtobufPayloadRoundTrips(t *testing.T) {
	wire, err := EncodeProtobufPayload(wrapperspb.String("hello"))
	require.NoError(t, err)

	var got wrapperspb.StringValue
	require.NoError(t, DecodeProtobufPayload(wire, &got))
	assert.Equal(t, "hello", got.Value)
}

func TestDecodeProtobufPayloadRejectsWrongCodec(t *testing.T) {
	wire := EncodeWithPrefix(CodecJSON, []byte(`"hello"`))
	var got wrapperspb.StringValue
	assert.Error(t, DecodeProtobufPayload(wire, &got))
}
