package ioadapter

import (
	"errors"
	"fmt"
	"io"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

// Serial is an Adapter over a real serial port, grounded on
// serial_port_open/_write/_get1/_close: open with github.com/pkg/term in
// raw mode, set the line speed, and put the descriptor in non-blocking
// mode so ReadInto/WriteFrom never stall the host event loop.
type Serial struct {
	name string
	fd   *term.Term

	notifyRead  func(bool)
	notifyWrite func(bool)
}

// OpenSerial opens devicename at baud (0 leaves the current speed alone,
// matching serial_port_open's convention) and returns a ready Adapter.
func OpenSerial(devicename string, baud int) (*Serial, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("ioadapter: open serial %s: %w", devicename, err)
	}

	switch baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(baud); err != nil {
			fd.Close()
			return nil, fmt.Errorf("ioadapter: set speed on %s: %w", devicename, err)
		}
	default:
		return nil, fmt.Errorf("ioadapter: unsupported baud %d on %s", baud, devicename)
	}

	if err := unix.SetNonblock(int(fd.Fd()), true); err != nil {
		fd.Close()
		return nil, fmt.Errorf("ioadapter: set nonblocking on %s: %w", devicename, err)
	}

	return &Serial{name: devicename, fd: fd}, nil
}

func (s *Serial) ReadInto(p []byte) (int, error) {
	n, err := s.fd.Read(p)
	if err != nil {
		if err == io.EOF || isWouldBlock(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ioadapter: read %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Serial) WriteFrom(p []byte) (int, error) {
	n, err := s.fd.Write(p)
	if err != nil {
		if isWouldBlock(err) {
			return n, nil
		}
		return n, fmt.Errorf("ioadapter: write %s: %w", s.name, err)
	}
	return n, nil
}

// Reset flushes pending bytes at the tty driver level via TCFLSH, the
// same ioctl family ptt.go uses directly through golang.org/x/sys/unix
// for serial-line control. n is ignored: the kernel flush is all-or-nothing
// per queue, which matches DiscardAll and is treated as the only supported
// case for a real serial line.
func (s *Serial) Reset(dir Direction, _ int) error {
	selector := unix.TCOFLUSH
	if dir == DirRead {
		selector = unix.TCIFLUSH
	}
	if err := unix.IoctlSetInt(int(s.fd.Fd()), unix.TCFLSH, selector); err != nil {
		return fmt.Errorf("ioadapter: flush %s (%s): %w", s.name, dir, err)
	}
	return nil
}

func (s *Serial) NotifyRead(enable bool) {
	if s.notifyRead != nil {
		s.notifyRead(enable)
	}
}

func (s *Serial) NotifyWrite(enable bool) {
	if s.notifyWrite != nil {
		s.notifyWrite(enable)
	}
}

// SetNotifiers wires the adapter's notify callbacks to the host event
// loop; called once by whatever registers this endpoint.
func (s *Serial) SetNotifiers(onRead, onWrite func(bool)) {
	s.notifyRead = onRead
	s.notifyWrite = onWrite
}

func (s *Serial) Close() error {
	return s.fd.Close()
}

func (s *Serial) Fd() uintptr {
	return s.fd.Fd()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
