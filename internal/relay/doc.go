// Package relay implements the TinyXPC connection-state manager for a
// single point-to-point session: twin send/receive state machines that
// cooperate through a shared signal word to frame messages, run the
// RESET/SET_ENDIANNESS/SET_CRC/DISCONNECT negotiation sub-protocol, and
// guarantee that a message is delivered atomically or not at all.
//
// A Relay is driven by exactly one goroutine. WriteContinue and
// ReadContinue are called by the host event loop when the underlying
// ioadapter.Adapter reports write- or read-readiness; no internal
// locking exists or is required, matching the single-threaded
// cooperative scheduling model this protocol assumes.
package relay

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/crcprovider"
	"github.com/txpc-project/txpc/internal/ioadapter"
)

// state names a step of either the send or receive machine. The receive
// machine reuses stateReset/stateMsg/stateSetCRC/stateSetEndianness as
// its own "waiting for ack" steps (WAIT_RESET, WAIT_MSG, WAIT_CRC,
// WAIT_ENDIANNESS in the governing design), mirroring the original
// state enum's deliberate aliasing of those names to the same values.
type state int

const (
	stateNone state = iota
	stateReset
	stateMsg
	stateStop
	stateSetCRC
	stateSetEndianness
	stateWaitDispatch
)

func (s state) String() string {
	switch s {
	case stateNone:
		return "NONE"
	case stateReset:
		return "RESET"
	case stateMsg:
		return "MSG"
	case stateStop:
		return "STOP"
	case stateSetCRC:
		return "SET_CRC"
	case stateSetEndianness:
		return "SET_ENDIANNESS"
	case stateWaitDispatch:
		return "WAIT_DISPATCH"
	default:
		return "UNKNOWN"
	}
}

// inflightOp is the shared shape of one direction's in-progress
// operation.
type inflightOp struct {
	state         state
	totalBytes    int
	bytesComplete int
	hdr           txpc.Header
	hdrBuf        [txpc.HeaderSize]byte
	buf           []byte
}

func (op *inflightOp) reset() {
	*op = inflightOp{}
}

// DispatchFunc delivers one complete DATA message to the application. A
// false return is backpressure, not an error: the receive machine keeps
// the payload alive and retries the same call on the next ReadContinue.
type DispatchFunc func(hdr txpc.Header, payload []byte) bool

// Relay is one point-to-point TinyXPC session.
type Relay struct {
	io       ioadapter.Adapter
	cfg      txpc.ConnConfig
	crc      txpc.CRCProvider
	dispatch DispatchFunc
	log      *log.Logger

	sig signalWord
	wr  inflightOp
	rd  inflightOp

	// pendingCRCBits/pendingBigEndian stage a negotiation value between
	// the entry point that requested it (or the receive machine, which
	// stages the peer's requested value here before echoing it back)
	// and the write machine's completion handler, which applies it only
	// once both signals have cleared.
	pendingCRCBits   int
	pendingBigEndian bool

	// terminated is set once a DISCONNECT handshake completes in either
	// direction. It is sticky: once true, the relay accepts no further
	// SendMsg/SendReset calls.
	terminated bool
}

func (r *Relay) applyCRCBits(bits int) {
	r.cfg.CRCBits = bits
	r.crc = crcprovider.ForBits(bits)
}

// Terminated reports whether a DISCONNECT handshake has completed.
func (r *Relay) Terminated() bool {
	return r.terminated
}

// New configures a Relay for a new connection over adapter. crc must
// match cfg.CRCBits; dispatch is called once per complete DATA message.
func New(adapter ioadapter.Adapter, cfg txpc.ConnConfig, crc txpc.CRCProvider, dispatch DispatchFunc, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Relay{
		io:       adapter,
		cfg:      cfg,
		crc:      crc,
		dispatch: dispatch,
		log:      logger,
	}
}
