// Package router implements the switching fabric between TinyXPC
// endpoints: route table, per-endpoint accumulation/drain state, and the
// non-blocking header accumulator the governing design calls for in
// place of the original blocking 5-byte read.
package router

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/ioadapter"
	"github.com/txpc-project/txpc/internal/negotiation"
	"github.com/txpc-project/txpc/internal/queue"
)

// Endpoint names one registered I/O adapter. Callers pick stable,
// human-readable ids (a device path, a listener+connection tag); the
// router never interprets the string itself.
type Endpoint string

type routeKey struct {
	inEp    Endpoint
	inChan  uint8
}

type routeTarget struct {
	outEp   Endpoint
	outChan uint8
}

// inContext is the accumulation state for one input endpoint. It
// persists across AccumulateMsg calls for as long as a header or
// payload is partially received, which is what lets the header read be
// non-blocking: a call that sees fewer than 5 bytes simply returns
// INFLIGHT and is resumed on the next readiness notification instead of
// blocking the event loop.
type inContext struct {
	cfg txpc.ConnConfig

	hdrBuf        [txpc.HeaderSize]byte
	hdrBytesRead  int
	hdr           txpc.Header
	msgInflight   bool
	bufID         int
	bufOffset     int
	dropRemaining int

	negBuf    []byte
	negOffset int
}

// outContext owns one output endpoint's drain queue and the buffer
// currently being written, if any. currentBuf is held directly rather
// than re-looked-up by id: DequeueFinal only drops the queue's final
// mark, so the id stays resolvable, but holding the pointer avoids a
// redundant map lookup on every WriteMsg call.
type outContext struct {
	queue              *queue.Queue
	currentBuf         *queue.Buf
	writeNotifyEnabled bool
}

// Router multiplexes DATA messages between registered endpoints
// according to a channel-level switch table, and applies RESET/
// SET_ENDIANNESS/SET_CRC/DISCONNECT frames addressed to the reserved
// negotiation channel locally instead of routing them.
type Router struct {
	endpoints map[Endpoint]ioadapter.Adapter
	inCtx     map[Endpoint]*inContext
	outCtx    map[Endpoint]*outContext
	switchTbl map[routeKey]routeTarget
	negotiate *negotiation.Handler
	log       *log.Logger
}

// New returns an empty Router. negotiate applies reserved-channel
// control frames observed on input endpoints; it must not be nil.
func New(negotiate *negotiation.Handler, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Router{
		endpoints: make(map[Endpoint]ioadapter.Adapter),
		inCtx:     make(map[Endpoint]*inContext),
		outCtx:    make(map[Endpoint]*outContext),
		switchTbl: make(map[routeKey]routeTarget),
		negotiate: negotiate,
		log:       logger,
	}
}

// RegisterEndpoint associates ep with the adapter AccumulateMsg/WriteMsg
// will drive for it. Registering twice replaces the adapter without
// disturbing any route or in-flight accumulation state.
func (r *Router) RegisterEndpoint(ep Endpoint, adapter ioadapter.Adapter) {
	r.endpoints[ep] = adapter
}

// SetRoute adds a channel-level route. The input endpoint's accumulation
// context is created on first use (if absent); the output endpoint's
// drain context and queue are created on first use and then held for
// the router's lifetime.
func (r *Router) SetRoute(inEp, outEp Endpoint, inChannel, outChannel uint8) error {
	if _, ok := r.endpoints[inEp]; !ok {
		return fmt.Errorf("router: set_route: input endpoint %q not registered", inEp)
	}
	if _, ok := r.endpoints[outEp]; !ok {
		return fmt.Errorf("router: set_route: output endpoint %q not registered", outEp)
	}

	if _, ok := r.inCtx[inEp]; !ok {
		r.inCtx[inEp] = &inContext{cfg: txpc.DefaultConnConfig(), bufID: -1, dropRemaining: -1}
	}
	if _, ok := r.outCtx[outEp]; !ok {
		r.outCtx[outEp] = &outContext{queue: queue.New()}
	}

	r.switchTbl[routeKey{inEp, inChannel}] = routeTarget{outEp, outChannel}
	return nil
}

// ConfigureEndpoint sets the connection defaults (CRC width, byte order,
// forced acknowledgement) an input endpoint starts with, before any
// negotiation frame arrives. It creates the endpoint's accumulation
// context if one doesn't already exist, so it may be called before the
// endpoint has any route.
func (r *Router) ConfigureEndpoint(ep Endpoint, cfg txpc.ConnConfig) {
	ctx, ok := r.inCtx[ep]
	if !ok {
		ctx = &inContext{bufID: -1, dropRemaining: -1}
		r.inCtx[ep] = ctx
	}
	ctx.cfg = cfg
}

// RemoveRoute drops one channel-level route. The input endpoint's
// accumulation context is left in place: it is keyed by endpoint, not
// channel, and other routes may still be using it. The output
// endpoint's context and queue are likewise retained, matching the
// governing design's explicit call to leave garbage collection for a
// later pass rather than guess at a policy here.
func (r *Router) RemoveRoute(inEp Endpoint, inChannel uint8) {
	delete(r.switchTbl, routeKey{inEp, inChannel})
}

// AccumulateMsg advances the input endpoint's header/payload
// accumulation by at most one header read and one payload read, routing
// or applying the result
// once a full message has arrived. Call it whenever the endpoint
// reports read readiness.
func (r *Router) AccumulateMsg(inEp Endpoint) (txpc.Status, error) {
	ctx, ok := r.inCtx[inEp]
	if !ok {
		return txpc.StatusBadState, fmt.Errorf("router: accumulate_msg: no context for endpoint %q", inEp)
	}
	adapter := r.endpoints[inEp]
	if adapter == nil {
		return txpc.StatusBadState, fmt.Errorf("router: accumulate_msg: endpoint %q not registered", inEp)
	}

	if !ctx.msgInflight {
		n, err := adapter.ReadInto(ctx.hdrBuf[ctx.hdrBytesRead:])
		if err != nil {
			return txpc.StatusBadState, fmt.Errorf("router: read header on %q: %w", inEp, err)
		}
		ctx.hdrBytesRead += n
		if ctx.hdrBytesRead < txpc.HeaderSize {
			return txpc.StatusInflight, nil
		}

		ctx.hdr = txpc.ParseHeader(ctx.hdrBuf[:], txpc.ByteOrder(ctx.cfg.BigEndian))
		ctx.hdrBytesRead = 0
		ctx.bufID = -1
		ctx.bufOffset = 0
		ctx.dropRemaining = -1
		ctx.msgInflight = true

		if ctx.hdr.IsNegotiation() {
			ctx.negBuf = make([]byte, ctx.hdr.Size)
			ctx.negOffset = 0
		} else if _, routed := r.switchTbl[routeKey{inEp, ctx.hdr.To}]; !routed {
			ctx.dropRemaining = int(ctx.hdr.Size)
		}
	}

	switch {
	case ctx.dropRemaining >= 0:
		return r.continueDrop(adapter, ctx)
	case ctx.hdr.IsNegotiation():
		return r.continueNegotiate(adapter, ctx)
	default:
		return r.continueRoute(inEp, adapter, ctx)
	}
}

func (r *Router) continueDrop(adapter ioadapter.Adapter, ctx *inContext) (txpc.Status, error) {
	if ctx.dropRemaining == 0 {
		ctx.msgInflight = false
		return txpc.StatusDone, nil
	}
	scratch := make([]byte, ctx.dropRemaining)
	n, err := adapter.ReadInto(scratch)
	if err != nil {
		return txpc.StatusBadState, fmt.Errorf("router: drop unrouted payload: %w", err)
	}
	ctx.dropRemaining -= n
	if ctx.dropRemaining == 0 {
		ctx.msgInflight = false
		return txpc.StatusDone, nil
	}
	return txpc.StatusInflight, nil
}

func (r *Router) continueNegotiate(adapter ioadapter.Adapter, ctx *inContext) (txpc.Status, error) {
	if ctx.negOffset < len(ctx.negBuf) {
		n, err := adapter.ReadInto(ctx.negBuf[ctx.negOffset:])
		if err != nil {
			return txpc.StatusBadState, fmt.Errorf("router: read negotiation payload: %w", err)
		}
		ctx.negOffset += n
		if ctx.negOffset < len(ctx.negBuf) {
			return txpc.StatusInflight, nil
		}
	}
	err := r.negotiate.Apply(ctx.hdr, ctx.negBuf, &ctx.cfg)
	ctx.msgInflight = false
	ctx.negBuf = nil
	if err != nil {
		r.log.Warn("negotiation frame rejected", "err", err)
		return txpc.StatusDone, nil
	}
	return txpc.StatusDone, nil
}

func (r *Router) continueRoute(inEp Endpoint, adapter ioadapter.Adapter, ctx *inContext) (txpc.Status, error) {
	sw := r.switchTbl[routeKey{inEp, ctx.hdr.To}]
	outCtx, ok := r.outCtx[sw.outEp]
	if !ok {
		ctx.dropRemaining = int(ctx.hdr.Size) - ctx.bufOffset
		if ctx.dropRemaining < 0 {
			ctx.dropRemaining = 0
		}
		return r.continueDrop(adapter, ctx)
	}

	total := txpc.HeaderSize + int(ctx.hdr.Size)
	var buf *queue.Buf
	if ctx.bufID < 0 {
		buf = outCtx.queue.GetBuf(-1)
		ctx.bufID = buf.BufID
	} else {
		buf = outCtx.queue.GetBuf(ctx.bufID)
	}
	if cap(buf.Bytes) < total {
		grown := make([]byte, total)
		copy(grown, buf.Bytes)
		buf.Bytes = grown
	} else if len(buf.Bytes) < total {
		buf.Bytes = buf.Bytes[:total]
	}

	if ctx.bufOffset == 0 {
		substituted := ctx.hdr
		substituted.To = sw.outChan
		txpc.PutHeader(buf.Bytes[0:txpc.HeaderSize], substituted, txpc.ByteOrder(ctx.cfg.BigEndian))
		ctx.bufOffset = txpc.HeaderSize
		buf.WrOffset = 0
	}

	n, err := adapter.ReadInto(buf.Bytes[ctx.bufOffset:total])
	if err != nil {
		return txpc.StatusBadState, fmt.Errorf("router: read routed payload on %q: %w", inEp, err)
	}
	ctx.bufOffset += n
	buf.Size = ctx.bufOffset

	if outDriver := r.endpoints[sw.outEp]; outDriver != nil && !outCtx.writeNotifyEnabled {
		outDriver.NotifyWrite(true)
		outCtx.writeNotifyEnabled = true
	}

	if ctx.bufOffset < total {
		return txpc.StatusInflight, nil
	}

	outCtx.queue.Finalize(buf.BufID)
	ctx.msgInflight = false
	return txpc.StatusDone, nil
}

// WriteMsg drains at most one write call's worth of the output
// endpoint's current buffer, dequeuing the next finalized buffer when
// none is in progress. Call it whenever the endpoint reports write
// readiness.
func (r *Router) WriteMsg(outEp Endpoint) (txpc.Status, error) {
	outCtx, ok := r.outCtx[outEp]
	if !ok {
		return txpc.StatusBadState, fmt.Errorf("router: write_msg: no context for endpoint %q", outEp)
	}
	adapter := r.endpoints[outEp]
	if adapter == nil {
		return txpc.StatusBadState, fmt.Errorf("router: write_msg: endpoint %q not registered", outEp)
	}

	if outCtx.currentBuf == nil {
		buf := outCtx.queue.DequeueFinal()
		if buf == nil {
			adapter.NotifyWrite(false)
			outCtx.writeNotifyEnabled = false
			return txpc.StatusDone, nil
		}
		outCtx.currentBuf = buf
	}

	buf := outCtx.currentBuf
	n, err := adapter.WriteFrom(buf.Bytes[buf.WrOffset : buf.WrOffset+buf.Size])
	if err != nil {
		return txpc.StatusBadState, fmt.Errorf("router: write to %q: %w", outEp, err)
	}
	buf.WrOffset += n
	buf.Size -= n

	if buf.Size == 0 {
		outCtx.queue.Clear(buf.BufID)
		outCtx.currentBuf = nil
		return txpc.StatusDone, nil
	}
	return txpc.StatusInflight, nil
}
