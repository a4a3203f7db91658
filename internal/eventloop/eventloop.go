// Package eventloop wraps Linux epoll as the single-threaded I/O
// readiness driver for the router and relay, grounded on epoll_app.c's
// add/mod/del-fd-plus-mainloop shape: one interest list, one callback
// per event kind, dispatched by epoll_wait.
package eventloop

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// Callback is invoked with the fd an event fired on.
type Callback func(fd int)

// Loop owns one epoll instance and the callbacks registered against it.
type Loop struct {
	epollFD int
	running bool

	onReadable   Callback
	onWritable   Callback
	onReadHangup Callback
	onError      Callback
	onHangup     Callback

	log *log.Logger
}

// Config supplies the callbacks a Loop dispatches to; any may be nil, in
// which case that event kind is silently ignored (epoll keeps reporting
// it on every wait until the fd's interest mask is changed or removed).
type Config struct {
	OnReadable   Callback
	OnWritable   Callback
	OnReadHangup Callback
	OnError      Callback
	OnHangup     Callback
	Logger       *log.Logger
}

// New creates a new epoll instance with CLOEXEC set.
func New(cfg Config) (*Loop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Loop{
		epollFD:      fd,
		onReadable:   cfg.OnReadable,
		onWritable:   cfg.OnWritable,
		onReadHangup: cfg.OnReadHangup,
		onError:      cfg.OnError,
		onHangup:     cfg.OnHangup,
		log:          logger,
	}, nil
}

// eventMask is the full set of epoll event bits this loop understands.
// AddFD and ModFD register exactly the bits their caller passes; this
// constant is not applied to them.
const eventMask = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLHUP

// AddFD registers fd for the given epoll event bits (e.g. unix.EPOLLIN).
// If fd is already registered, AddFD behaves like ModFD, mirroring
// epoll_app_add_fd's EEXIST fallback.
func (l *Loop) AddFD(fd int, events uint32) error {
	err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	if err == nil {
		return nil
	}
	if err == unix.EEXIST {
		return l.ModFD(fd, events)
	}
	return fmt.Errorf("eventloop: epoll_ctl(ADD, %d): %w", fd, err)
}

// ModFD changes the interest mask for an already-registered fd.
func (l *Loop) ModFD(fd int, events uint32) error {
	err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

// DelFD removes fd from the interest list. Removing an fd that was
// never added is not an error, whether or not fd is open (ENOENT and
// EBADF are both ignored).
func (l *Loop) DelFD(fd int) error {
	err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("eventloop: epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

// RunOnce blocks for up to timeoutMillis (-1 blocks forever, matching
// the mainloop's epoll_wait(..., -1) call) and dispatches every event
// epoll reports to the matching callback. It returns the number of
// events dispatched.
func (l *Loop) RunOnce(timeoutMillis int) (int, error) {
	events := make([]unix.EpollEvent, 32)
	n, err := unix.EpollWait(l.epollFD, events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("eventloop: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)
		if ev.Events&unix.EPOLLIN != 0 && l.onReadable != nil {
			l.onReadable(fd)
		}
		if ev.Events&unix.EPOLLOUT != 0 && l.onWritable != nil {
			l.onWritable(fd)
		}
		if ev.Events&unix.EPOLLRDHUP != 0 && l.onReadHangup != nil {
			l.onReadHangup(fd)
		}
		if ev.Events&unix.EPOLLERR != 0 && l.onError != nil {
			l.onError(fd)
		}
		if ev.Events&unix.EPOLLHUP != 0 && l.onHangup != nil {
			l.onHangup(fd)
		}
	}
	return n, nil
}

// Run calls RunOnce in a loop, blocking indefinitely between
// iterations, until Stop is called.
func (l *Loop) Run() error {
	l.running = true
	for l.running {
		if _, err := l.RunOnce(-1); err != nil {
			return err
		}
	}
	return nil
}

// Stop requests that Run return after its current iteration.
func (l *Loop) Stop() {
	l.running = false
}

// Close closes the underlying epoll file descriptor. The Loop must not
// be used afterward.
func (l *Loop) Close() error {
	return unix.Close(l.epollFD)
}
