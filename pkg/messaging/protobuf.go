package messaging

import (
	"google.golang.org/protobuf/proto"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

// EncodeProtobufPayload marshals msg and frames it with the protobuf
// multicodec prefix, ready to carry as an Envelope payload.
func EncodeProtobufPayload(msg proto.Message) ([]byte, error) {
	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrMessagingError, "marshal protobuf payload", err)
	}
	return EncodeWithPrefix(CodecProtobuf, body), nil
}

// DecodeProtobufPayload strips the multicodec prefix from wire, verifies
// the codec is protobuf, and unmarshals the body into msg.
func DecodeProtobufPayload(wire []byte, msg proto.Message) error {
	codec, body, err := DecodeWithPrefix(wire)
	if err != nil {
		return err
	}
	if codec != CodecProtobuf {
		return apierrors.Wrap(apierrors.ErrMessagingError, "payload codec is "+codec.String()+", not protobuf", nil)
	}
	if err := proto.Unmarshal(body, msg); err != nil {
		return apierrors.Wrap(apierrors.ErrMessagingError, "unmarshal protobuf payload", err)
	}
	return nil
}
