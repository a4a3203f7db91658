// Package negotiation applies to=from=0 control traffic against a
// connection's ConnConfig, split out of the router so accumulate_msg-
// style code stays ignorant of the wire protocol it's multiplexing.
package negotiation

import (
	"fmt"

	"github.com/txpc-project/txpc"
)

// Handler mutates a single endpoint's ConnConfig in response to
// negotiation frames (type RESET/SET_ENDIANNESS/SET_CRC/DISCONNECT with
// to=from=0) observed on that endpoint by the router.
type Handler struct {
	crcFor func(bits int) txpc.CRCProvider
}

// New returns a Handler. crcFor is not called; when it is non-nil, Apply
// rejects SET_CRC widths other than 0, 8, 16 and 32, and when it is nil
// any width is stored unchecked.
func New(crcFor func(bits int) txpc.CRCProvider) *Handler {
	return &Handler{crcFor: crcFor}
}

// IsNegotiation reports whether hdr addresses the reserved negotiation
// channel rather than a routable endpoint.
func IsNegotiation(hdr txpc.Header) bool {
	return hdr.IsNegotiation()
}

// Apply updates cfg in place for a negotiation frame. It does not
// produce an echo: the relay on the other end of this endpoint owns
// acknowledgement, exactly as it would for a direct point-to-point
// session. Apply only tracks what the router itself must know to parse
// subsequent frames from this endpoint (byte order, CRC width).
func (h *Handler) Apply(hdr txpc.Header, payload []byte, cfg *txpc.ConnConfig) error {
	if !hdr.IsNegotiation() {
		return fmt.Errorf("negotiation: header addresses to=%d from=%d, not the reserved channel", hdr.To, hdr.From)
	}

	switch hdr.Type {
	case txpc.MsgReset:
		*cfg = txpc.DefaultConnConfig()
		return nil

	case txpc.MsgSetEndianness:
		if len(payload) != 1 {
			return fmt.Errorf("negotiation: SET_ENDIANNESS payload has %d bytes, want 1", len(payload))
		}
		cfg.BigEndian = payload[0] != 0
		return nil

	case txpc.MsgSetCRC:
		if len(payload) != 1 {
			return fmt.Errorf("negotiation: SET_CRC payload has %d bytes, want 1", len(payload))
		}
		bits := int(payload[0])
		if h.crcFor != nil {
			if _, err := validCRCBits(bits); err != nil {
				return err
			}
		}
		cfg.CRCBits = bits
		return nil

	case txpc.MsgDisconnect:
		return nil

	default:
		return fmt.Errorf("negotiation: unexpected message type %s on reserved channel", hdr.Type)
	}
}

func validCRCBits(bits int) (int, error) {
	switch bits {
	case 0, 8, 16, 32:
		return bits, nil
	default:
		return 0, fmt.Errorf("negotiation: unsupported CRC width %d", bits)
	}
}
