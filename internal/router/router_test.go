package router

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/ioadapter"
	"github.com/txpc-project/txpc/internal/negotiation"
)

// memAdapter is a fixed-chunk in-memory ioadapter.Adapter: each ReadInto/
// WriteFrom call moves at most chunk bytes, so tests can exercise
// multi-call accumulation deterministically.
type memAdapter struct {
	in    *bytes.Buffer
	out   *bytes.Buffer
	chunk int

	notifyReadCalls  []bool
	notifyWriteCalls []bool
}

func newMemAdapter(chunk int) *memAdapter {
	return &memAdapter{in: &bytes.Buffer{}, out: &bytes.Buffer{}, chunk: chunk}
}

func (m *memAdapter) ReadInto(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	max := m.chunk
	if max <= 0 || max > len(p) {
		max = len(p)
	}
	n, err := m.in.Read(p[:max])
	if err == io.EOF {
		return 0, nil
	}
	return n, err
}

func (m *memAdapter) WriteFrom(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	max := m.chunk
	if max <= 0 || max > len(p) {
		max = len(p)
	}
	return m.out.Write(p[:max])
}

func (m *memAdapter) Reset(dir ioadapter.Direction, n int) error { return nil }
func (m *memAdapter) NotifyRead(enable bool)                     { m.notifyReadCalls = append(m.notifyReadCalls, enable) }
func (m *memAdapter) NotifyWrite(enable bool)                    { m.notifyWriteCalls = append(m.notifyWriteCalls, enable) }

func frame(hdr txpc.Header, payload []byte) []byte {
	buf := make([]byte, txpc.HeaderSize+len(payload))
	txpc.PutHeader(buf, hdr, txpc.ByteOrder(false))
	copy(buf[txpc.HeaderSize:], payload)
	return buf
}

func newTestRouter(t *testing.T) (*Router, *memAdapter, *memAdapter) {
	in := newMemAdapter(0)
	out := newMemAdapter(0)
	r := New(negotiation.New(nil), nil)
	r.RegisterEndpoint("in", in)
	r.RegisterEndpoint("out", out)
	require.NoError(t, r.SetRoute("in", "out", 3, 7))
	return r, in, out
}

func TestAccumulateAndWriteRoutesDataMessage(t *testing.T) {
	r, in, out := newTestRouter(t)

	payload := []byte("hello uut2!\n")
	in.in.Write(frame(txpc.Header{Size: uint16(len(payload)), Type: txpc.MsgData, To: 3, From: 1}, payload))

	for {
		status, err := r.AccumulateMsg("in")
		require.NoError(t, err)
		if status == txpc.StatusDone {
			break
		}
	}

	for {
		status, err := r.WriteMsg("out")
		require.NoError(t, err)
		if status == txpc.StatusDone {
			break
		}
	}

	got := txpc.ParseHeader(out.out.Bytes()[:txpc.HeaderSize], txpc.ByteOrder(false))
	assert.Equal(t, uint8(7), got.To, "substituted channel should be the route's out channel")
	assert.Equal(t, uint8(1), got.From)
	assert.Equal(t, payload, out.out.Bytes()[txpc.HeaderSize:])
}

func TestAccumulateHeaderAcrossMultipleCalls(t *testing.T) {
	in := newMemAdapter(2)
	out := newMemAdapter(0)
	r := New(negotiation.New(nil), nil)
	r.RegisterEndpoint("in", in)
	r.RegisterEndpoint("out", out)
	require.NoError(t, r.SetRoute("in", "out", 3, 7))

	payload := []byte("abc")
	in.in.Write(frame(txpc.Header{Size: uint16(len(payload)), Type: txpc.MsgData, To: 3, From: 1}, payload))

	statuses := 0
	for {
		status, err := r.AccumulateMsg("in")
		require.NoError(t, err)
		statuses++
		if status == txpc.StatusDone {
			break
		}
		require.Less(t, statuses, 20, "accumulation should terminate")
	}
	assert.Greater(t, statuses, 1, "header should have required more than one non-blocking read")

	for {
		status, err := r.WriteMsg("out")
		require.NoError(t, err)
		if status == txpc.StatusDone {
			break
		}
	}

	got := txpc.ParseHeader(out.out.Bytes()[:txpc.HeaderSize], txpc.ByteOrder(false))
	assert.Equal(t, uint8(7), got.To, "a message accumulated across many calls must still carry the substituted channel")
	assert.Equal(t, payload, out.out.Bytes()[txpc.HeaderSize:], "a message accumulated across many calls must not be scattered across separate buffers")
}

func TestAccumulateDropsUnroutedMessage(t *testing.T) {
	r, in, _ := newTestRouter(t)

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}
	in.in.Write(frame(txpc.Header{Size: uint16(len(payload)), Type: txpc.MsgData, To: 9, From: 1}, payload))

	for i := 0; i < 3; i++ {
		_, err := r.AccumulateMsg("in")
		require.NoError(t, err)
	}

	assert.Equal(t, 0, in.in.Len(), "all 15 bytes should have been discarded")
	assert.Equal(t, 0, r.outCtx["out"].queue.Len(), "no out-queue should contain any buffer")
}

func TestAccumulateAppliesNegotiationLocally(t *testing.T) {
	r, in, _ := newTestRouter(t)

	in.in.Write(frame(txpc.Header{Type: txpc.MsgSetEndianness, Size: 1, To: 0, From: 0}, []byte{1}))

	for {
		status, err := r.AccumulateMsg("in")
		require.NoError(t, err)
		if status == txpc.StatusDone {
			break
		}
	}

	assert.True(t, r.inCtx["in"].cfg.BigEndian)
}

func TestConfigureEndpointAppliesBeforeAnyRoute(t *testing.T) {
	in := newMemAdapter(0)
	r := New(negotiation.New(nil), nil)
	r.RegisterEndpoint("in", in)

	r.ConfigureEndpoint("in", txpc.ConnConfig{CRCBits: 16, BigEndian: true})

	assert.Equal(t, 16, r.inCtx["in"].cfg.CRCBits)
	assert.True(t, r.inCtx["in"].cfg.BigEndian)
}

func TestConfigureEndpointSurvivesSubsequentSetRoute(t *testing.T) {
	in := newMemAdapter(0)
	out := newMemAdapter(0)
	r := New(negotiation.New(nil), nil)
	r.RegisterEndpoint("in", in)
	r.RegisterEndpoint("out", out)

	r.ConfigureEndpoint("in", txpc.ConnConfig{CRCBits: 8, BigEndian: true})
	require.NoError(t, r.SetRoute("in", "out", 3, 7))

	assert.Equal(t, 8, r.inCtx["in"].cfg.CRCBits, "SetRoute must not overwrite a config already in place")
	assert.True(t, r.inCtx["in"].cfg.BigEndian)
}

func TestWriteMsgDisablesNotifyOnEmptyQueue(t *testing.T) {
	r, _, out := newTestRouter(t)

	status, err := r.WriteMsg("out")
	require.NoError(t, err)
	assert.Equal(t, txpc.StatusDone, status)
	require.NotEmpty(t, out.notifyWriteCalls)
	assert.False(t, out.notifyWriteCalls[len(out.notifyWriteCalls)-1])
}
