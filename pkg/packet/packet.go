// Package packet implements the device wire frame.
//
// Layout, little-endian:
//
//	START(1)=0xf0 | TYPE(1) | HANDLER_ID(2) | CRC(1)=0 | LENGTH(2) |
//	REQUEST_ID(2) | HEADER_END(1)=0xe7 | PAYLOAD(LENGTH) | END(1)=0xff
//
// The low three TYPE bits are the Kind; the upper five are carried as
// Flags so frames round-trip byte for byte.
package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame markers.
const (
	Start     byte = 0xf0
	HeaderEnd byte = 0xe7
	End       byte = 0xff
)

// Sizes of the fixed parts of a frame.
const (
	HeaderSize           = 10
	HeaderSizeAfterStart = HeaderSize - 1
	TrailerSize          = 1
	MaxPayload           = math.MaxUint16
)

// Kind is the frame type.
type Kind uint8

const (
	KindInvalid  Kind = 0
	KindRPC      Kind = 1 // client -> device call
	KindResponse Kind = 2 // success reply
	KindError    Kind = 3 // failure reply; HandlerID is the error code
	KindEvent    Kind = 4 // device -> client broadcast
	KindAction   Kind = 5 // reserved

	kindMask byte = 0x07
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindRPC:
		return "RPC"
	case KindResponse:
		return "RESPONSE"
	case KindError:
		return "ERROR"
	case KindEvent:
		return "EVENT"
	case KindAction:
		return "ACTION"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Header is the fixed frame header.
type Header struct {
	Kind      Kind
	Flags     uint8 // upper five TYPE bits, unshifted
	HandlerID uint16
	CRC       uint8
	Length    uint16
	RequestID uint16
}

// Packet is one frame.
type Packet struct {
	Header
	Payload []byte
}

// New builds a packet with Length taken from payload.
func New(kind Kind, handler, requestID uint16, payload []byte) (Packet, error) {
	if len(payload) > MaxPayload {
		return Packet{}, Violation(CodePayloadTooLarge, "payload is %d bytes, limit %d", len(payload), MaxPayload)
	}
	if byte(kind)&^kindMask != 0 {
		return Packet{}, Violation(CodeBadKind, "kind %d does not fit in 3 bits", uint8(kind))
	}
	return Packet{
		Header: Header{
			Kind:      kind,
			HandlerID: handler,
			Length:    uint16(len(payload)),
			RequestID: requestID,
		},
		Payload: payload,
	}, nil
}

// FrameSize is the total encoded size of a frame with header h.
func FrameSize(h Header) int {
	return HeaderSize + int(h.Length) + TrailerSize
}

// Dump encodes p.
func Dump(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, Violation(CodePayloadTooLarge, "payload is %d bytes, limit %d", len(p.Payload), MaxPayload)
	}
	if int(p.Length) != len(p.Payload) {
		return nil, Violation(CodeLengthMismatch, "header length %d, payload %d bytes", p.Length, len(p.Payload))
	}
	if p.CRC != 0 {
		return nil, Violation(CodeBadCRC, "crc byte must be 0, got %#02x", p.CRC)
	}
	if byte(p.Kind)&^kindMask != 0 {
		return nil, Violation(CodeBadKind, "kind %d does not fit in 3 bits", uint8(p.Kind))
	}
	if p.Flags&kindMask != 0 {
		return nil, Violation(CodeBadKind, "flags %#02x overlap the kind bits", p.Flags)
	}

	buf := make([]byte, FrameSize(p.Header))
	buf[0] = Start
	buf[1] = byte(p.Kind) | p.Flags
	binary.LittleEndian.PutUint16(buf[2:4], p.HandlerID)
	buf[4] = p.CRC
	binary.LittleEndian.PutUint16(buf[5:7], p.Length)
	binary.LittleEndian.PutUint16(buf[7:9], p.RequestID)
	buf[9] = HeaderEnd
	copy(buf[HeaderSize:], p.Payload)
	buf[len(buf)-1] = End
	return buf, nil
}

// ParseHeader decodes a header that starts with the START byte.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, Violation(CodeShortBuffer, "header needs %d bytes, have %d", HeaderSize, len(buf))
	}
	if buf[0] != Start {
		return Header{}, Violation(CodeBadStart, "expected %#02x, got %#02x", Start, buf[0])
	}
	return ParseHeaderAfterStart(buf[1:])
}

// ParseHeaderAfterStart decodes a header whose START byte was already
// consumed by a stream scanner.
func ParseHeaderAfterStart(buf []byte) (Header, error) {
	if len(buf) < HeaderSizeAfterStart {
		return Header{}, Violation(CodeShortBuffer, "header needs %d bytes after start, have %d", HeaderSizeAfterStart, len(buf))
	}
	if buf[8] != HeaderEnd {
		return Header{}, Violation(CodeBadHeaderEnd, "expected %#02x, got %#02x", HeaderEnd, buf[8])
	}
	h := Header{
		Kind:      Kind(buf[0] & kindMask),
		Flags:     buf[0] &^ kindMask,
		HandlerID: binary.LittleEndian.Uint16(buf[1:3]),
		CRC:       buf[3],
		Length:    binary.LittleEndian.Uint16(buf[4:6]),
		RequestID: binary.LittleEndian.Uint16(buf[6:8]),
	}
	if h.CRC != 0 {
		return Header{}, Violation(CodeBadCRC, "crc byte must be 0, got %#02x", h.CRC)
	}
	return h, nil
}

// Parse decodes exactly one frame.
func Parse(buf []byte) (Packet, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	size := FrameSize(h)
	switch {
	case len(buf) < size:
		return Packet{}, Violation(CodeShortBuffer, "frame needs %d bytes, have %d", size, len(buf))
	case len(buf) > size:
		return Packet{}, Violation(CodeLengthMismatch, "frame is %d bytes, header says %d", len(buf), size)
	}
	if buf[size-1] != End {
		return Packet{}, Violation(CodeBadEnd, "expected %#02x, got %#02x", End, buf[size-1])
	}
	payload := make([]byte, h.Length)
	copy(payload, buf[HeaderSize:size-1])
	return Packet{Header: h, Payload: payload}, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("%s handler=%d id=%d len=%d", p.Kind, p.HandlerID, p.RequestID, p.Length)
}
