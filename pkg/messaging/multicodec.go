package messaging

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"
)

// Codec identifies how an envelope's payload bytes are encoded. Values map
// onto the standard multicodec table so wire bytes remain self-describing
// across hosts that use a different subset of codecs (spec §6 wire
// contract).
type Codec multicodec.Code

const (
	CodecRaw         Codec = Codec(multicodec.Raw)
	CodecJSON        Codec = Codec(multicodec.Json)
	CodecCBOR        Codec = Codec(multicodec.Cbor)
	CodecMessagePack Codec = Codec(multicodec.Messagepack)
	CodecProtobuf    Codec = Codec(multicodec.Protobuf)

	// Borsh and Bincode have no entry in the multicodec registry yet;
	// these live in the registry's private-use area (0x300000-0x3fffff)
	// pending real assignments.
	CodecBorsh   Codec = 0x300001
	CodecBincode Codec = 0x300002
)

func (c Codec) String() string {
	switch c {
	case CodecBorsh:
		return "borsh"
	case CodecBincode:
		return "bincode"
	default:
		return multicodec.Code(c).String()
	}
}

// Recognized reports whether c is one of the codecs this host accepts.
// Unknown codecs fail closed at the sending host function (spec §6).
func (c Codec) Recognized() bool {
	switch c {
	case CodecRaw, CodecJSON, CodecCBOR, CodecMessagePack, CodecProtobuf, CodecBorsh, CodecBincode:
		return true
	default:
		return false
	}
}

// EncodeWithPrefix prepends payload with its varint-encoded multicodec
// code, producing the self-describing wire form a guest passes as the
// message bytes of a messaging host call.
func EncodeWithPrefix(codec Codec, payload []byte) []byte {
	prefix := varint.ToUvarint(uint64(codec))
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	out = append(out, payload...)
	return out
}

// DecodeWithPrefix reads the leading varint codec tag from wire and
// returns the codec plus the remaining payload bytes.
func DecodeWithPrefix(wire []byte) (Codec, []byte, error) {
	code, n, err := varint.FromUvarint(wire)
	if err != nil {
		return 0, nil, fmt.Errorf("messaging: decode multicodec prefix: %w", err)
	}
	return Codec(code), wire[n:], nil
}

// ReadPrefixed reads one varint-prefixed frame from r, as produced by
// EncodeWithPrefix, returning the codec and payload.
func ReadPrefixed(r io.Reader) (Codec, []byte, error) {
	br := bufio.NewReader(r)
	code, err := varint.ReadUvarint(br)
	if err != nil {
		return 0, nil, fmt.Errorf("messaging: read multicodec prefix: %w", err)
	}
	payload, err := io.ReadAll(br)
	if err != nil {
		return 0, nil, fmt.Errorf("messaging: read payload: %w", err)
	}
	return Codec(code), payload, nil
}

// WritePrefixed writes a varint-prefixed frame to w.
func WritePrefixed(w io.Writer, codec Codec, payload []byte) error {
	buf := bytes.NewBuffer(nil)
	buf.Write(varint.ToUvarint(uint64(codec)))
	buf.Write(payload)
	_, err := w.Write(buf.Bytes())
	return err
}
