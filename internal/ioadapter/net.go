package ioadapter

import (
	"fmt"
	"net"
	"time"
)

// Net is an Adapter over a net.Conn, grounded on server.go's
// client_sock []net.Conn TCP handling. server.go reads with a dedicated
// goroutine per client and never needs non-blocking I/O; this adapter
// instead polls the connection with a deadline one millisecond ahead on
// every call, so a call waits at most that long for the transport; this
// treats a net.Conn as non-blocking without a goroutine per endpoint,
// since the relay's cooperative scheduler drives everything from one
// thread. (A deadline already in the past fails the call before any
// bytes move.)
type Net struct {
	name string
	conn net.Conn

	notifyRead  func(bool)
	notifyWrite func(bool)
}

// WrapNet adapts an already-connected net.Conn (TCP, unix socket, or
// otherwise) for use by the relay and router.
func WrapNet(name string, conn net.Conn) *Net {
	return &Net{name: name, conn: conn}
}

func (n *Net) ReadInto(buf []byte) (int, error) {
	if err := n.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, fmt.Errorf("ioadapter: set read deadline %s: %w", n.name, err)
	}
	c, err := n.conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ioadapter: read %s: %w", n.name, err)
	}
	return c, nil
}

func (n *Net) WriteFrom(buf []byte) (int, error) {
	if err := n.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, fmt.Errorf("ioadapter: set write deadline %s: %w", n.name, err)
	}
	c, err := n.conn.Write(buf)
	if err != nil {
		if isTimeout(err) {
			return c, nil
		}
		return c, fmt.Errorf("ioadapter: write %s: %w", n.name, err)
	}
	return c, nil
}

// Reset has no kernel-level flush analogue for a stream socket; it
// discards buffered bytes by reading and dropping them, matching the
// spec's reset(ctx, direction=read, bytes) contract for "drop the next
// N bytes". A write-direction reset is a no-op: there is no user-space
// write buffer to discard here.
func (n *Net) Reset(dir Direction, bytes int) error {
	if dir == DirWrite {
		return nil
	}
	if bytes == DiscardAll {
		scratch := make([]byte, 4096)
		for {
			c, err := n.ReadInto(scratch)
			if err != nil {
				return err
			}
			if c == 0 {
				return nil
			}
		}
	}
	remaining := bytes
	scratch := make([]byte, 4096)
	for remaining > 0 {
		want := remaining
		if want > len(scratch) {
			want = len(scratch)
		}
		c, err := n.ReadInto(scratch[:want])
		if err != nil {
			return err
		}
		if c == 0 {
			return nil
		}
		remaining -= c
	}
	return nil
}

func (n *Net) NotifyRead(enable bool) {
	if n.notifyRead != nil {
		n.notifyRead(enable)
	}
}

func (n *Net) NotifyWrite(enable bool) {
	if n.notifyWrite != nil {
		n.notifyWrite(enable)
	}
}

// SetNotifiers wires the adapter's notify callbacks to the host event loop.
func (n *Net) SetNotifiers(onRead, onWrite func(bool)) {
	n.notifyRead = onRead
	n.notifyWrite = onWrite
}

func (n *Net) Close() error { return n.conn.Close() }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
