package relay

import (
	"bytes"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/ioadapter"
)

// ReadContinue advances the receive machine by at most one I/O call per
// step, looping while state changes so a single call drains as much as the
// transport offers without blocking.
func (r *Relay) ReadContinue() txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	for {
		changed, n, err := r.readStep()
		if err != nil {
			r.log.Error("read step failed", "err", err)
			return txpc.StatusBadState
		}
		if !changed && n == 0 {
			break
		}
	}
	if r.rd.state == stateNone {
		return txpc.StatusDone
	}
	return txpc.StatusInflight
}

func (r *Relay) readStep() (changed bool, n int, err error) {
	op := &r.rd

	if op.bytesComplete < txpc.HeaderSize {
		n, err = r.readHeaderByte(op)
		if err != nil {
			return false, 0, err
		}
		if op.bytesComplete < txpc.HeaderSize {
			return n > 0, n, nil
		}
		order := txpc.ByteOrder(r.cfg.BigEndian)
		op.hdr = txpc.ParseHeader(op.hdrBuf[:], order)
	} else if op.state != stateNone && op.state != stateWaitDispatch && op.bytesComplete < op.totalBytes {
		n, err = r.readPayload(op)
		if err != nil {
			return false, 0, err
		}
	}

	switch op.state {
	case stateNone:
		return r.dispatchHeader(op)
	case stateReset:
		return r.continueWaitReset(op)
	case stateMsg:
		return r.continueWaitMsg(op)
	case stateSetCRC:
		return r.continueWaitCRC(op)
	case stateSetEndianness:
		return r.continueWaitEndianness(op)
	case stateWaitDispatch:
		return r.continueWaitDispatch(op)
	default:
		return n > 0, n, nil
	}
}

func (r *Relay) readHeaderByte(op *inflightOp) (int, error) {
	n, err := r.io.ReadInto(op.hdrBuf[op.bytesComplete:])
	if err != nil {
		return 0, err
	}
	op.bytesComplete += n
	return n, nil
}

func (r *Relay) readPayload(op *inflightOp) (int, error) {
	if op.buf == nil {
		op.buf = make([]byte, op.totalBytes-txpc.HeaderSize)
	}
	payloadOff := op.bytesComplete - txpc.HeaderSize
	n, err := r.io.ReadInto(op.buf[payloadOff:])
	if err != nil {
		return 0, err
	}
	op.bytesComplete += n
	return n, nil
}

// dispatchHeader is entered once a full 5-byte header has arrived and
// the receive machine was previously idle.
func (r *Relay) dispatchHeader(op *inflightOp) (changed bool, n int, err error) {
	switch op.hdr.Type {
	case txpc.MsgReset:
		if r.sig.has(SigRstSend) {
			r.sig.clear(SigRstSend)
			if err := r.io.Reset(ioadapter.DirWrite, ioadapter.DiscardAll); err != nil {
				return false, 0, err
			}
			if err := r.io.Reset(ioadapter.DirRead, ioadapter.DiscardAll); err != nil {
				return false, 0, err
			}
			op.reset()
			return true, 0, nil
		}
		r.sig.set(SigRstRecvd)
		op.totalBytes = txpc.HeaderSize
		op.state = stateReset
		return true, 0, nil

	case txpc.MsgSetEndianness:
		if op.hdr.Size != 1 {
			return r.dropMalformed(op)
		}
		r.sig.set(SigEndiannessRecvd)
		op.totalBytes = txpc.HeaderSize + 1
		op.state = stateSetEndianness
		return true, 0, nil

	case txpc.MsgSetCRC:
		if op.hdr.Size != 1 {
			return r.dropMalformed(op)
		}
		r.sig.set(SigCRCRecvd)
		op.totalBytes = txpc.HeaderSize + 1
		op.state = stateSetCRC
		return true, 0, nil

	case txpc.MsgDisconnect:
		r.sig.set(SigDiscRecvd)
		op.reset()
		return true, 0, nil

	case txpc.MsgData:
		op.totalBytes = txpc.HeaderSize + int(op.hdr.Size) + r.crc.Bits()/8
		op.state = stateMsg
		return true, 0, nil

	default:
		return r.dropMalformed(op)
	}
}

func (r *Relay) dropMalformed(op *inflightOp) (bool, int, error) {
	if err := r.io.Reset(ioadapter.DirRead, txpc.HeaderSize); err != nil {
		return false, 0, err
	}
	op.reset()
	return true, 0, nil
}

// continueWaitReset expects the reset frame to be fully formed
// (type=RESET, to=from=0, size=0); any deviation is treated as a
// malformed frame and dropped, matching WAIT_RESET's guard.
func (r *Relay) continueWaitReset(op *inflightOp) (changed bool, n int, err error) {
	if op.bytesComplete < op.totalBytes {
		return false, 0, nil
	}
	if op.hdr.Type != txpc.MsgReset || op.hdr.To != 0 || op.hdr.From != 0 || op.hdr.Size != 0 {
		return r.dropMalformed(op)
	}
	if r.sig.has(SigRstSend) {
		r.sig.clear(SigRstSend)
		r.sig.clear(SigRstRecvd)
		if err := r.io.Reset(ioadapter.DirWrite, ioadapter.DiscardAll); err != nil {
			return false, 0, err
		}
		if err := r.io.Reset(ioadapter.DirRead, ioadapter.DiscardAll); err != nil {
			return false, 0, err
		}
		op.reset()
		return true, 0, nil
	}
	// We are the responder: stay here until the send side's echo
	// completes and clears SigRstRecvd for us (see completeReset).
	if !r.sig.has(SigRstRecvd) {
		op.reset()
		return true, 0, nil
	}
	return false, 0, nil
}

func (r *Relay) continueWaitMsg(op *inflightOp) (changed bool, n int, err error) {
	if op.bytesComplete < op.totalBytes {
		return false, 0, nil
	}
	if r.crc.Bits() > 0 {
		payload := op.buf[:op.hdr.Size]
		tail := op.buf[op.hdr.Size:]
		want := r.crc.Compute(payload, txpc.ByteOrder(r.cfg.BigEndian))
		if !bytes.Equal(tail, want) {
			if err := r.io.Reset(ioadapter.DirRead, ioadapter.DiscardAll); err != nil {
				return false, 0, err
			}
			op.reset()
			return true, 0, nil
		}
	}
	op.state = stateWaitDispatch
	return true, 0, nil
}

func (r *Relay) continueWaitDispatch(op *inflightOp) (changed bool, n int, err error) {
	payload := op.buf
	if r.crc.Bits() > 0 {
		payload = op.buf[:op.hdr.Size]
	}
	if r.dispatch == nil || r.dispatch(op.hdr, payload) {
		if err := r.io.Reset(ioadapter.DirRead, ioadapter.DiscardAll); err != nil {
			return false, 0, err
		}
		op.reset()
		return true, 0, nil
	}
	// Backpressure: dispatch declined, retry next invocation without
	// reading any further bytes.
	return false, 0, nil
}

// continueWaitCRC and continueWaitEndianness mirror continueWaitReset:
// the initiator applies the negotiated value and clears both signals
// itself on seeing the peer's echo; the responder stages the requested
// value and parks here until the send side's own echo completes and
// clears the RECVD signal for it.
func (r *Relay) continueWaitCRC(op *inflightOp) (changed bool, n int, err error) {
	if op.bytesComplete < op.totalBytes {
		return false, 0, nil
	}
	r.pendingCRCBits = int(op.buf[0])
	if r.sig.has(SigCRCSend) {
		r.sig.clear(SigCRCSend)
		r.sig.clear(SigCRCRecvd)
		r.applyCRCBits(r.pendingCRCBits)
		op.reset()
		return true, 0, nil
	}
	if !r.sig.has(SigCRCRecvd) {
		op.reset()
		return true, 0, nil
	}
	return false, 0, nil
}

func (r *Relay) continueWaitEndianness(op *inflightOp) (changed bool, n int, err error) {
	if op.bytesComplete < op.totalBytes {
		return false, 0, nil
	}
	r.pendingBigEndian = op.buf[0] != 0
	if r.sig.has(SigEndiannessSend) {
		r.sig.clear(SigEndiannessSend)
		r.sig.clear(SigEndiannessRecvd)
		r.cfg.BigEndian = r.pendingBigEndian
		op.reset()
		return true, 0, nil
	}
	if !r.sig.has(SigEndiannessRecvd) {
		op.reset()
		return true, 0, nil
	}
	return false, 0, nil
}
