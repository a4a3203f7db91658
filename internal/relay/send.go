package relay

import (
	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/ioadapter"
)

// SendReset requests a connection reset. If neither direction currently
// has a message inflight, it asserts SigRstSend and returns DONE;
// otherwise the request is deferred (the write machine picks it up once
// NONE) and INFLIGHT is returned. Calling this twice before any progress
// is idempotent: the second call only re-asserts an already-set signal,
// so exactly one RESET frame reaches the wire. A terminated relay
// returns BAD_STATE.
func (r *Relay) SendReset() txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	if r.terminated {
		return txpc.StatusBadState
	}
	r.sig.set(SigRstSend)
	if r.wr.state != stateNone || r.rd.state != stateNone {
		return txpc.StatusInflight
	}
	return txpc.StatusDone
}

// SendDisconnect requests a graceful teardown, acknowledged like RESET:
// the send machine emits a DISCONNECT frame and the connection is
// considered torn down only once the peer's echo is observed.
func (r *Relay) SendDisconnect() txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	r.sig.set(SigDiscSend)
	if r.wr.state != stateNone || r.rd.state != stateNone {
		return txpc.StatusInflight
	}
	return txpc.StatusDone
}

// SendSetCRC requests renegotiation of the CRC width, acknowledged after
// the peer's echo per the "after ack" mandate: torn encodings (one side
// computing CRCs at the new width before the other has agreed) are not
// possible because ConnConfig.CRCBits only changes once both signals
// clear.
func (r *Relay) SendSetCRC(bits int) txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	r.pendingCRCBits = bits
	r.sig.set(SigCRCSend)
	if r.wr.state != stateNone {
		return txpc.StatusInflight
	}
	return txpc.StatusDone
}

// SendSetEndianness requests renegotiation of the wire byte order,
// applied only after the peer's echo, for the same reason as SendSetCRC.
func (r *Relay) SendSetEndianness(bigEndian bool) txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	r.pendingBigEndian = bigEndian
	r.sig.set(SigEndiannessSend)
	if r.wr.state != stateNone {
		return txpc.StatusInflight
	}
	return txpc.StatusDone
}

// SendMsg queues a DATA message for transmission. data is borrowed: the
// caller must not mutate it until the write machine returns to NONE.
func (r *Relay) SendMsg(to, from uint8, data []byte) txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	if r.terminated {
		return txpc.StatusBadState
	}
	if r.wr.state != stateNone {
		return txpc.StatusInflight
	}
	r.wr.hdr = txpc.Header{Size: uint16(len(data)), Type: txpc.MsgData, To: to, From: from}
	r.wr.buf = data
	r.wr.totalBytes = txpc.HeaderSize + len(data) + r.crc.Bits()/8
	r.wr.bytesComplete = 0
	r.wr.state = stateMsg
	return txpc.StatusDone
}

// WriteContinue advances the send machine by at most one I/O call per
// step, repeating steps while state changes or bytes are accepted so a
// single call drains as much as the transport allows without blocking.
func (r *Relay) WriteContinue() txpc.Status {
	if r == nil {
		return txpc.StatusBadState
	}
	for {
		changed, n, err := r.writeStep()
		if err != nil {
			r.log.Error("write step failed", "err", err)
			return txpc.StatusBadState
		}
		if !changed && n == 0 {
			break
		}
	}
	if r.wr.state == stateNone {
		return txpc.StatusDone
	}
	return txpc.StatusInflight
}

func (r *Relay) writeStep() (changed bool, n int, err error) {
	// Reset collides with an in-flight DATA message: abort the current
	// MSG op and fall into the reset handshake immediately rather than
	// waiting for the message to finish, per the mandated reset/DATA
	// interlock.
	if r.wr.state == stateMsg && r.sig.has(SigRstRecvd) {
		if err := r.io.Reset(ioadapter.DirWrite, ioadapter.DiscardAll); err != nil {
			return false, 0, err
		}
		r.wr.reset()
		return true, 0, nil
	}
	switch r.wr.state {
	case stateNone:
		return r.writeNone()
	case stateReset:
		return r.writeFrame(&r.wr, r.completeReset)
	case stateStop:
		return r.writeFrame(&r.wr, r.completeDisconnect)
	case stateSetCRC:
		return r.writeFrame(&r.wr, r.completeSetCRC)
	case stateSetEndianness:
		return r.writeFrame(&r.wr, r.completeSetEndianness)
	case stateMsg:
		return r.writeMsg()
	default:
		return false, 0, nil
	}
}

func (r *Relay) writeNone() (changed bool, n int, err error) {
	switch {
	case r.sig.has(SigRstSend) || r.sig.has(SigRstRecvd):
		r.beginFrame(&r.wr, txpc.Header{Type: txpc.MsgReset}, nil, stateReset)
		return true, 0, nil
	case r.sig.has(SigDiscSend) || r.sig.has(SigDiscRecvd):
		r.beginFrame(&r.wr, txpc.Header{Type: txpc.MsgDisconnect}, nil, stateStop)
		return true, 0, nil
	case r.sig.has(SigCRCSend) || r.sig.has(SigCRCRecvd):
		r.beginFrame(&r.wr, txpc.Header{Type: txpc.MsgSetCRC, Size: 1}, []byte{encodeCRCBits(r.pendingCRCBits)}, stateSetCRC)
		return true, 0, nil
	case r.sig.has(SigEndiannessSend) || r.sig.has(SigEndiannessRecvd):
		r.beginFrame(&r.wr, txpc.Header{Type: txpc.MsgSetEndianness, Size: 1}, []byte{encodeEndianness(r.pendingBigEndian)}, stateSetEndianness)
		return true, 0, nil
	default:
		return false, 0, nil
	}
}

func (r *Relay) beginFrame(op *inflightOp, hdr txpc.Header, payload []byte, next state) {
	op.hdr = hdr
	op.buf = payload
	op.totalBytes = txpc.HeaderSize + len(payload)
	op.bytesComplete = 0
	op.state = next
}

// writeFrame drains a fixed-size control frame (reset/disconnect/set-crc/
// set-endianness): header bytes, then any 1-byte payload. Once fully on
// the wire it calls onComplete to decide the next transition.
func (r *Relay) writeFrame(op *inflightOp, onComplete func() (changed bool, err error)) (changed bool, n int, err error) {
	if op.bytesComplete < op.totalBytes {
		n, err = r.writeBytes(op)
		if err != nil {
			return false, 0, err
		}
		if n == 0 {
			return false, 0, nil
		}
	}
	if op.bytesComplete == op.totalBytes {
		changed, err = onComplete()
		return changed, n, err
	}
	return n > 0, n, nil
}

// writeBytes performs exactly one write call for the current op,
// choosing header or payload bytes based on bytesComplete, and advances
// bytesComplete by the amount actually accepted.
func (r *Relay) writeBytes(op *inflightOp) (int, error) {
	order := txpc.ByteOrder(r.cfg.BigEndian)
	if op.bytesComplete < txpc.HeaderSize {
		if op.hdrBuf == ([txpc.HeaderSize]byte{}) {
			txpc.PutHeader(op.hdrBuf[:], op.hdr, order)
		}
		n, err := r.io.WriteFrom(op.hdrBuf[op.bytesComplete:])
		if err != nil {
			return 0, err
		}
		op.bytesComplete += n
		return n, nil
	}
	payloadOff := op.bytesComplete - txpc.HeaderSize
	n, err := r.io.WriteFrom(op.buf[payloadOff:])
	if err != nil {
		return 0, err
	}
	op.bytesComplete += n
	return n, nil
}

func (r *Relay) completeReset() (bool, error) {
	switch {
	case r.sig.has(SigRstRecvd):
		r.sig.clear(SigRstRecvd)
		if err := r.io.Reset(ioadapter.DirWrite, -1); err != nil {
			return false, err
		}
		if err := r.io.Reset(ioadapter.DirRead, -1); err != nil {
			return false, err
		}
		r.wr.reset()
		return true, nil
	case !r.sig.has(SigRstSend):
		// We are the responder: our mandatory echo has gone out, which
		// is what the receive machine's WAIT_RESET is blocked on.
		r.sig.clear(SigRstRecvd)
		r.wr.reset()
		return true, nil
	default:
		// We initiated and are still awaiting the peer's echo.
		return false, nil
	}
}

func (r *Relay) completeDisconnect() (bool, error) {
	switch {
	case r.sig.has(SigDiscRecvd):
		r.sig.clear(SigDiscRecvd)
		r.sig.clear(SigDiscSend)
		r.terminated = true
		r.wr.reset()
		return true, nil
	case !r.sig.has(SigDiscSend):
		r.sig.clear(SigDiscRecvd)
		r.terminated = true
		r.wr.reset()
		return true, nil
	default:
		return false, nil
	}
}

func (r *Relay) completeSetCRC() (bool, error) {
	if r.sig.has(SigCRCRecvd) {
		r.sig.clear(SigCRCRecvd)
		r.sig.clear(SigCRCSend)
		r.applyCRCBits(r.pendingCRCBits)
		r.wr.reset()
		return true, nil
	}
	if !r.sig.has(SigCRCSend) {
		// We initiated and the receive machine has already seen the
		// peer's echo, applied the width and cleared both signals.
		r.wr.reset()
		return true, nil
	}
	return false, nil
}

func (r *Relay) completeSetEndianness() (bool, error) {
	if r.sig.has(SigEndiannessRecvd) {
		r.sig.clear(SigEndiannessRecvd)
		r.sig.clear(SigEndiannessSend)
		r.cfg.BigEndian = r.pendingBigEndian
		r.wr.reset()
		return true, nil
	}
	if !r.sig.has(SigEndiannessSend) {
		// We initiated and the receive machine has already seen the
		// peer's echo, applied the byte order and cleared both signals.
		r.wr.reset()
		return true, nil
	}
	return false, nil
}

func (r *Relay) writeMsg() (changed bool, n int, err error) {
	op := &r.wr
	crcStart := txpc.HeaderSize + int(op.hdr.Size)

	if op.bytesComplete < txpc.HeaderSize {
		n, err = r.writeBytes(op)
	} else if op.bytesComplete < crcStart {
		n, err = r.writeBytes(op)
	} else if op.bytesComplete == crcStart && r.crc.Bits() > 0 && len(op.buf) == int(op.hdr.Size) {
		digest := r.crc.Compute(op.buf, txpc.ByteOrder(r.cfg.BigEndian))
		op.buf = append(append([]byte{}, op.buf...), digest...)
		return true, 0, nil
	} else if op.bytesComplete < op.totalBytes {
		n, err = r.writeCRCTail(op, crcStart)
	}
	if err != nil {
		return false, 0, err
	}

	if op.bytesComplete == op.totalBytes {
		if err := r.io.Reset(ioadapter.DirWrite, -1); err != nil {
			return false, n, err
		}
		op.reset()
		return true, n, nil
	}
	return n > 0, n, nil
}

func (r *Relay) writeCRCTail(op *inflightOp, crcStart int) (int, error) {
	tailOff := op.bytesComplete - txpc.HeaderSize
	n, err := r.io.WriteFrom(op.buf[tailOff:])
	if err != nil {
		return 0, err
	}
	op.bytesComplete += n
	return n, nil
}

func encodeCRCBits(bits int) byte {
	return byte(bits)
}

func encodeEndianness(bigEndian bool) byte {
	if bigEndian {
		return 1
	}
	return 0
}
