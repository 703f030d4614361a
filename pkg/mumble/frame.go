package mumble

import (
	"encoding/binary"
	"fmt"
)

// Frame is one wire message: a 6-byte header (big-endian type tag and
// payload length) followed by the protobuf payload. Frames exist only
// on the read and write paths; they are never persisted.
type Frame struct {
	Tag     uint16
	Payload []byte
}

// EncodeFrame serializes a header plus payload for the wire.
func EncodeFrame(tag uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], tag)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodePacket serializes a decoded packet into its wire frame.
func EncodePacket(p Packet) ([]byte, error) {
	type marshaler interface{ Marshal() []byte }
	m, ok := p.(marshaler)
	if !ok {
		return nil, fmt.Errorf("packet %s is not encodable", TagName(p.WireTag()))
	}
	return EncodeFrame(p.WireTag(), m.Marshal())
}

// DecodeHeader reads the type tag and payload length from the first
// HeaderSize bytes of b.
func DecodeHeader(b []byte) (tag uint16, length uint32) {
	return binary.BigEndian.Uint16(b[0:2]), binary.BigEndian.Uint32(b[2:6])
}

// SplitFrame extracts the first complete frame from buf. ok is false
// when more bytes are needed; err is a fatal stream error (oversized
// announcement). The returned payload aliases buf; rest is the
// remainder after the consumed frame.
func SplitFrame(buf []byte) (f Frame, rest []byte, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Frame{}, buf, false, nil
	}
	tag, length := DecodeHeader(buf)
	if length > MaxPayloadSize {
		return Frame{}, buf, false,
			fmt.Errorf("%w: %s frame announces %d bytes", ErrPayloadTooLarge, TagName(tag), length)
	}
	total := HeaderSize + int(length)
	if len(buf) < total {
		return Frame{}, buf, false, nil
	}
	return Frame{Tag: tag, Payload: buf[HeaderSize:total]}, buf[total:], true, nil
}
