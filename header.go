// Package txpc implements the TinyXPC wire protocol: a point-to-point
// message relay that multiplexes logical channels onto a single
// bidirectional byte stream.
package txpc

import (
	"encoding/binary"
	"fmt"
)

// MsgType identifies the kind of a TinyXPC frame.
type MsgType uint8

const (
	MsgReset MsgType = 1 + iota
	MsgSetEndianness
	MsgSetCRC
	MsgDisconnect
	MsgData
)

func (t MsgType) String() string {
	switch t {
	case MsgReset:
		return "RESET"
	case MsgSetEndianness:
		return "SET_ENDIANNESS"
	case MsgSetCRC:
		return "SET_CRC"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgData:
		return "DATA"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// HeaderSize is the fixed on-wire size of a Header, in bytes.
const HeaderSize = 5

// Header is the 5-byte frame header common to every TinyXPC message.
// Field order on the wire is fixed: size, type, to, from. Only the
// 16-bit size field is sensitive to negotiated endianness.
type Header struct {
	Size uint16
	Type MsgType
	To   uint8
	From uint8
}

// NegotiationChannel identifies negotiation traffic (RESET, SET_ENDIANNESS,
// SET_CRC, DISCONNECT): reserved to=0, from=0, never routed.
const NegotiationChannel = 0

// IsNegotiation reports whether the header addresses the reserved
// negotiation channel pair.
func (h Header) IsNegotiation() bool {
	return h.To == NegotiationChannel && h.From == NegotiationChannel
}

// PutHeader encodes h into buf (which must be at least HeaderSize bytes)
// using the given byte order for the size field.
func PutHeader(buf []byte, h Header, order binary.ByteOrder) {
	_ = buf[HeaderSize-1]
	order.PutUint16(buf[0:2], h.Size)
	buf[2] = byte(h.Type)
	buf[3] = h.To
	buf[4] = h.From
}

// ParseHeader decodes a Header from buf (which must be at least
// HeaderSize bytes) using the given byte order for the size field.
func ParseHeader(buf []byte, order binary.ByteOrder) Header {
	_ = buf[HeaderSize-1]
	return Header{
		Size: order.Uint16(buf[0:2]),
		Type: MsgType(buf[2]),
		To:   buf[3],
		From: buf[4],
	}
}

// ByteOrder returns the binary.ByteOrder implied by a negotiated
// endianness flag. Default (false) is little-endian per the wire format.
func ByteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
