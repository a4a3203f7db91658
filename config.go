package txpc

import "encoding/binary"

// ConnConfig holds the negotiated parameters of one relay connection.
type ConnConfig struct {
	CRCBits        int
	BigEndian      bool
	RequireMsgAck  bool
}

// DefaultConnConfig returns the connection defaults mandated by the wire
// format: no CRC, little-endian, no forced acknowledgement of bad messages.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		CRCBits:       0,
		BigEndian:     false,
		RequireMsgAck: false,
	}
}

// CRCProvider computes a checksum over a payload at a fixed width. The
// relay and router never implement CRC arithmetic themselves; they hold
// one of these per connection, selected from ConnConfig.CRCBits.
type CRCProvider interface {
	// Bits is the width of Compute's digest, one of {0, 8, 16, 32}.
	Bits() int
	// Compute returns the digest of data encoded in order, truncated to
	// Bits()/8 bytes.
	Compute(data []byte, order binary.ByteOrder) []byte
}
