// Command txpcd runs the TinyXPC router daemon: it opens the endpoints
// named in a YAML configuration file, wires them into a single switching
// fabric, and drains them from one epoll-driven loop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/txpc-project/txpc"
	"github.com/txpc-project/txpc/internal/config"
	"github.com/txpc-project/txpc/internal/crcprovider"
	"github.com/txpc-project/txpc/internal/eventloop"
	"github.com/txpc-project/txpc/internal/ioadapter"
	"github.com/txpc-project/txpc/internal/negotiation"
	"github.com/txpc-project/txpc/internal/router"
	"github.com/txpc-project/txpc/internal/txpclog"

	"github.com/brutella/dnssd"
)

// dnsSDServiceType names the DNS-SD service type advertised for net
// endpoints that listen, mirroring the sample's own KISS-over-TCP
// announcement but for the TinyXPC wire format instead.
const dnsSDServiceType = "_txpc._tcp"

// netPollInterval is how often endpoints with no file descriptor to
// register with epoll (net.Conn-backed endpoints) get a chance to make
// progress. Driven off a timerfd so the whole daemon stays on one
// epoll-driven thread instead of spawning a poller goroutine that would
// race with the router's single-threaded accumulation state.
const netPollInterval = 20 * time.Millisecond

func main() {
	var configFile = pflag.StringP("config", "c", "txpcd.yaml", "Router configuration file.")
	var advertise = pflag.BoolP("advertise", "a", false, "Announce listening net endpoints over DNS-SD, overriding the config file.")
	var logLevel = pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	var logTimeFormat = pflag.StringP("log-time-format", "t", "2006-01-02T15:04:05.000Z07:00", "Go reference-time layout for log timestamps.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - TinyXPC router daemon.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: txpcd [options]\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "txpcd: %v\n", err)
		os.Exit(1)
	}

	if *advertise {
		cfg.Advertise.Enabled = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.LogTimeFormat == "" {
		cfg.LogTimeFormat = *logTimeFormat
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "txpcd: %v\n", err)
		os.Exit(1)
	}

	logger := txpclog.New(os.Stderr, txpclog.Options{
		Level:           level,
		TimeFormat:      cfg.LogTimeFormat,
		ReportTimestamp: true,
	})

	d := newDaemon(logger)
	if err := d.start(cfg); err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer d.close()

	if err := d.loop.Run(); err != nil {
		logger.Error("event loop stopped", "err", err)
		os.Exit(1)
	}
}

// daemon owns everything txpcd opens: the router, the adapters it drives,
// and the epoll loop that schedules both.
type daemon struct {
	log    *log.Logger
	rtr    *router.Router
	loop   *eventloop.Loop
	closer []func() error

	// fdEndpoint maps a registered file descriptor back to the router
	// endpoint name it belongs to, so the loop's single OnReadable/
	// OnWritable callbacks know which endpoint to drive.
	fdEndpoint map[int]router.Endpoint
	// fdMask tracks each fd's current epoll interest so NotifyRead/
	// NotifyWrite can flip individual bits with ModFD instead of
	// clobbering the other direction's interest.
	fdMask map[int]uint32

	// netEndpoints lists endpoints with no fd to give epoll directly;
	// they are driven from the netPollInterval timerfd instead.
	netEndpoints []router.Endpoint

	timerFD int
}

func newDaemon(logger *log.Logger) *daemon {
	return &daemon{
		log:        logger,
		fdEndpoint: make(map[int]router.Endpoint),
		fdMask:     make(map[int]uint32),
		timerFD:    -1,
	}
}

func (d *daemon) start(cfg *config.Config) error {
	negotiate := negotiation.New(crcprovider.ForBits)
	d.rtr = router.New(negotiate, txpclog.ForComponent(d.log, "router"))

	loop, err := eventloop.New(eventloop.Config{
		OnReadable:   d.onReadable,
		OnWritable:   d.onWritable,
		OnReadHangup: d.onHangup,
		OnHangup:     d.onHangup,
		OnError:      d.onHangup,
		Logger:       txpclog.ForComponent(d.log, "eventloop"),
	})
	if err != nil {
		return err
	}
	d.loop = loop

	for _, ep := range cfg.Endpoints {
		if err := d.openEndpoint(ep); err != nil {
			return fmt.Errorf("open endpoint %q: %w", ep.Name, err)
		}
		d.rtr.ConfigureEndpoint(router.Endpoint(ep.Name), ep.ConnConfig())
	}

	for _, rt := range cfg.Routes {
		if err := d.rtr.SetRoute(router.Endpoint(rt.InEndpoint), router.Endpoint(rt.OutEndpoint), rt.InChannel, rt.OutChannel); err != nil {
			return fmt.Errorf("set route %s/%d -> %s/%d: %w", rt.InEndpoint, rt.InChannel, rt.OutEndpoint, rt.OutChannel, err)
		}
	}

	if len(d.netEndpoints) > 0 {
		if err := d.startNetPoller(); err != nil {
			return err
		}
	}

	if cfg.Advertise.Enabled {
		d.advertise(cfg)
	}

	return nil
}

func (d *daemon) openEndpoint(ep config.EndpointConfig) error {
	switch ep.Kind {
	case config.KindSerial:
		adapter, err := ioadapter.OpenSerial(ep.Device, ep.Baud)
		if err != nil {
			return err
		}
		d.registerFDEndpoint(router.Endpoint(ep.Name), adapter, int(adapter.Fd()))
		d.closer = append(d.closer, adapter.Close)

	case config.KindPTY:
		master, slave, err := ioadapter.OpenPTYPair()
		if err != nil {
			return err
		}
		d.log.Info("opened pty endpoint", "endpoint", ep.Name, "slave", slave.Name())
		d.registerFDEndpoint(router.Endpoint(ep.Name), master, int(master.Fd()))
		d.closer = append(d.closer, master.Close, slave.Close)

	case config.KindNet:
		conn, err := dialOrAccept(ep)
		if err != nil {
			return err
		}
		adapter := ioadapter.WrapNet(ep.Name, conn)
		d.rtr.RegisterEndpoint(router.Endpoint(ep.Name), adapter)
		d.netEndpoints = append(d.netEndpoints, router.Endpoint(ep.Name))
		d.closer = append(d.closer, adapter.Close)

	default:
		return fmt.Errorf("unknown endpoint kind %q", ep.Kind)
	}
	return nil
}

// dialOrAccept opens the net.Conn for a net endpoint: Dial connects out,
// Listen accepts exactly one inbound connection and then stops
// listening, matching TinyXPC's point-to-point connection model.
func dialOrAccept(ep config.EndpointConfig) (net.Conn, error) {
	if ep.Dial != "" {
		return net.Dial("tcp", ep.Dial)
	}
	ln, err := net.Listen("tcp", ep.Listen)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return ln.Accept()
}

type fdAdapter interface {
	ioadapter.Adapter
	SetNotifiers(onRead, onWrite func(bool))
}

// registerFDEndpoint registers a real file-descriptor-backed adapter
// with both the router and the epoll loop, and wires its NotifyRead/
// NotifyWrite requests to ModFD calls that flip just the requested
// direction's interest bit.
func (d *daemon) registerFDEndpoint(ep router.Endpoint, adapter fdAdapter, fd int) {
	d.rtr.RegisterEndpoint(ep, adapter)
	d.fdEndpoint[fd] = ep
	d.fdMask[fd] = unix.EPOLLIN | unix.EPOLLRDHUP

	adapter.SetNotifiers(
		func(enable bool) { d.setInterest(fd, unix.EPOLLIN, enable) },
		func(enable bool) { d.setInterest(fd, unix.EPOLLOUT, enable) },
	)

	if err := d.loop.AddFD(fd, d.fdMask[fd]); err != nil {
		d.log.Error("add fd to event loop", "endpoint", ep, "err", err)
	}
}

func (d *daemon) setInterest(fd int, bit uint32, enable bool) {
	mask := d.fdMask[fd]
	if enable {
		mask |= bit
	} else {
		mask &^= bit
	}
	d.fdMask[fd] = mask
	if err := d.loop.ModFD(fd, mask); err != nil {
		d.log.Error("update fd interest", "fd", fd, "err", err)
	}
}

// startNetPoller arms a periodic timerfd so net.Conn-backed endpoints,
// which have no fd epoll can watch directly, still get driven from the
// same single-threaded loop instead of a competing goroutine.
func (d *daemon) startNetPoller() error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("timerfd_create: %w", err)
	}
	interval := unix.NsecToTimespec(netPollInterval.Nanoseconds())
	spec := &unix.ItimerSpec{Interval: interval, Value: interval}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	d.timerFD = fd
	return d.loop.AddFD(fd, unix.EPOLLIN)
}

func (d *daemon) onReadable(fd int) {
	if fd == d.timerFD {
		var buf [8]byte
		unix.Read(fd, buf[:])
		for _, ep := range d.netEndpoints {
			d.driveAccumulate(ep)
			d.driveWrite(ep)
		}
		return
	}
	if ep, ok := d.fdEndpoint[fd]; ok {
		d.driveAccumulate(ep)
	}
}

func (d *daemon) onWritable(fd int) {
	if ep, ok := d.fdEndpoint[fd]; ok {
		d.driveWrite(ep)
	}
}

func (d *daemon) onHangup(fd int) {
	ep, ok := d.fdEndpoint[fd]
	if !ok {
		return
	}
	d.log.Warn("endpoint hung up or errored", "endpoint", ep, "fd", fd)
	d.loop.DelFD(fd)
	delete(d.fdEndpoint, fd)
	delete(d.fdMask, fd)
}

func (d *daemon) driveAccumulate(ep router.Endpoint) {
	for {
		status, err := d.rtr.AccumulateMsg(ep)
		if err != nil {
			d.log.Error("accumulate failed", "endpoint", ep, "err", err)
			return
		}
		if status != txpc.StatusDone {
			return
		}
	}
}

func (d *daemon) driveWrite(ep router.Endpoint) {
	for {
		status, err := d.rtr.WriteMsg(ep)
		if err != nil {
			d.log.Error("write failed", "endpoint", ep, "err", err)
			return
		}
		if status != txpc.StatusDone {
			return
		}
	}
}

func (d *daemon) advertise(cfg *config.Config) {
	port := cfg.Advertise.Port
	if port == 0 {
		for _, ep := range cfg.Endpoints {
			if ep.Kind == config.KindNet && ep.Listen != "" {
				if _, p, err := net.SplitHostPort(ep.Listen); err == nil {
					fmt.Sscanf(p, "%d", &port)
					break
				}
			}
		}
	}
	if port == 0 {
		d.log.Warn("dns-sd advertise requested but no listening port could be determined")
		return
	}

	name := cfg.Advertise.Name
	if name == "" {
		name = "txpcd"
	}

	sv, err := dnssd.NewService(dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: dnsSDServiceType,
		Port: port,
	})
	if err != nil {
		d.log.Error("dns-sd: create service", "err", err)
		return
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		d.log.Error("dns-sd: create responder", "err", err)
		return
	}
	if _, err := rp.Add(sv); err != nil {
		d.log.Error("dns-sd: add service", "err", err)
		return
	}

	d.log.Info("dns-sd: announcing", "name", name, "type", dnsSDServiceType, "port", port)
	go func() {
		if err := rp.Respond(context.Background()); err != nil {
			d.log.Error("dns-sd: responder stopped", "err", err)
		}
	}()
}

func (d *daemon) close() {
	for _, c := range d.closer {
		if err := c(); err != nil {
			d.log.Warn("close endpoint", "err", err)
		}
	}
	if d.timerFD >= 0 {
		unix.Close(d.timerFD)
	}
	if err := d.loop.Close(); err != nil {
		d.log.Warn("close event loop", "err", err)
	}
}
