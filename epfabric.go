// Package epfabric is an event-driven message broker that links
// heterogeneous data sources — Unix-domain and TCP sockets, serial
// ports, GPIO lines, SPI and I2C buses, and sysfs attributes — behind
// a single uniform "endpoint" abstraction, plus a named switch/port
// fan-out and an in-process loopback endpoint. It is the public
// surface (C10) over internal/endpoint, internal/switchboard,
// internal/session, and internal/loopback: open/close/bind/unbind
// endpoints, connect/send/setcb client sessions, and the switch and
// loopback xfer families. It is the Go counterpart of the original
// rteipc library's public rteipc.h API.
package epfabric

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"epfabric/errcode"
	"epfabric/internal/dtable"
	"epfabric/internal/endpoint"
	"epfabric/internal/loopback"
	"epfabric/internal/payload"
	"epfabric/internal/reactor"
	"epfabric/internal/session"
	"epfabric/internal/switchboard"
	"epfabric/internal/uri"
)

// log is the package-wide structured logger, overridable via
// SetLogger so embedding programs can redirect or silence it without
// any core operation reaching for logrus.StandardLogger() directly.
var log logrus.FieldLogger = defaultLogger()

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLogger replaces the package-wide logger.
func SetLogger(l logrus.FieldLogger) { log = l }

// switchCapacity bounds how many concurrently-live switches a Fabric
// tracks; unlike endpoint/session descriptors this isn't spec-sized,
// so it's generous.
const switchCapacity = 64

// Fabric is one broker instance: an endpoint registry, a switch
// table, a loopback registry, a client-session manager, and the
// reactor they all (optionally) share. Most programs use the
// package-level Init/Shutdown/... wrappers around a single process-
// wide instance (spec.md's "global/thread-local loop" design note);
// tests construct independent instances with New.
type Fabric struct {
	reactor *reactor.Reactor

	endpoints *endpoint.Registry
	loopback  *loopback.Registry
	sessions  *session.Manager

	mu         sync.Mutex
	switches   *dtable.Table[*switchboard.Switch]
	loopEP     map[string]int // loopback name -> owning LOOP endpoint descriptor
	portOwner  map[int]*switchboard.Switch
	exitSignal chan struct{}
}

// RingCapacity is the per-direction peer-channel buffer size used by
// Bind, a power of two per internal/ring's requirement.
const RingCapacity = 1 << 16

// New builds a standalone Fabric with its own reactor, endpoint
// registry, and session table — spec.md's endpoint/session table
// capacities (128, 256).
func New() (*Fabric, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	f := &Fabric{
		reactor:    r,
		endpoints:  endpoint.NewRegistry(endpoint.DefaultCapacity),
		loopback:   loopback.NewRegistry(),
		switches:   dtable.New[*switchboard.Switch](switchCapacity),
		loopEP:     make(map[string]int),
		portOwner:  make(map[int]*switchboard.Switch),
		exitSignal: make(chan struct{}, 1),
	}
	f.sessions = session.NewManager(f.breakLoop)
	return f, nil
}

func (f *Fabric) breakLoop() {
	select {
	case f.exitSignal <- struct{}{}:
	default:
	}
}

// Close releases the Fabric's reactor. It does not individually walk
// and close every live endpoint/session — callers that need a clean
// teardown should Close/Unbind them first; Close's job here is only
// to release the process resource (the epoll fd) a leaked Fabric
// would otherwise hold.
func (f *Fabric) Close() error {
	return f.reactor.Close()
}

// Reactor exposes the underlying reactor, e.g. so a caller can
// register its own fds alongside the core's.
func (f *Fabric) Reactor() *reactor.Reactor { return f.reactor }

// Dispatch runs one reactor iteration, returning once deadline elapses
// (a zero Time blocks until the next timer or fd event). If a terminal
// client-session error has signaled the loop to break since the
// previous call (spec.md §7's default "break unless NoExitOnError"),
// Dispatch returns 0 at once without waiting; a signal that arrives
// while Dispatch is already waiting does not cut that wait short.
func (f *Fabric) Dispatch(deadline time.Time) (int, error) {
	select {
	case <-f.exitSignal:
		return 0, nil
	default:
	}
	return f.reactor.Dispatch(deadline)
}

// Reinit refreshes the Fabric's reactor fds, for use after fork.
func (f *Fabric) Reinit() error { return f.reactor.Reinit() }

// ---- Endpoint family (open/close/bind/unbind) ----

// Open parses uri and opens the matching endpoint kind (spec.md §4.4):
// ipc://, inet://, tty://, gpio://, spi://, i2c://, sysfs://, or a bare
// name for an in-process loopback endpoint.
func (f *Fabric) Open(rawURI string) (int, error) {
	parsed, err := uri.Parse(rawURI)
	if err != nil {
		log.WithError(err).Warn("epfabric: open: invalid uri")
		return -1, err
	}

	if parsed.Kind == endpoint.LOOP {
		return f.openLoopback(parsed.Path)
	}

	backend, err := newBackend(parsed.Kind)
	if err != nil {
		return -1, err
	}
	path := parsed.Path
	if parsed.Kind == endpoint.INET {
		path = withDefaultPort(path)
	}
	ep, err := f.endpoints.Open(parsed.Kind, path, backend)
	if err != nil {
		log.WithError(err).WithField("uri", rawURI).Warn("epfabric: open failed")
		return -1, err
	}
	return ep.ID, nil
}

func (f *Fabric) openLoopback(name string) (int, error) {
	f.mu.Lock()
	if _, exists := f.loopEP[name]; exists {
		f.mu.Unlock()
		return -1, errcode.New(errcode.Conflict, "epfabric.Open", "duplicate loopback name", nil)
	}
	f.mu.Unlock()

	backend := endpoint.NewLoopBackend(f.loopback, name)
	ep, err := f.endpoints.Open(endpoint.LOOP, "", backend)
	if err != nil {
		return -1, err
	}
	f.mu.Lock()
	f.loopEP[name] = ep.ID
	f.mu.Unlock()
	return ep.ID, nil
}

func withDefaultPort(hostport string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return hostport + ":" + endpoint.DefaultInetPort
}

func newBackend(kind endpoint.Kind) (endpoint.Backend, error) {
	switch kind {
	case endpoint.IPC:
		return endpoint.NewIPCBackend(), nil
	case endpoint.INET:
		return endpoint.NewINETBackend(), nil
	case endpoint.TTY:
		return endpoint.NewTTYBackend(), nil
	case endpoint.GPIO:
		return endpoint.NewGPIOBackend(), nil
	case endpoint.SPI:
		return endpoint.NewSPIBackend(), nil
	case endpoint.I2C:
		return endpoint.NewI2CBackend(), nil
	case endpoint.SYSFS:
		return endpoint.NewSYSFSBackend(), nil
	default:
		return nil, errcode.New(errcode.InvalidArgument, "epfabric.Open", "unsupported kind", nil)
	}
}

// Close closes desc, whether it's a plain endpoint, a switch port, or
// a loopback endpoint. Idempotent against an unknown descriptor.
func (f *Fabric) Close(desc int) error {
	f.mu.Lock()
	if sw, ok := f.portOwner[desc]; ok {
		name, _ := sw.NameOf(desc)
		delete(f.portOwner, desc)
		f.mu.Unlock()
		return sw.ClosePort(name)
	}
	f.mu.Unlock()

	ep, ok := f.endpoints.Find(desc)
	if !ok {
		return nil
	}
	if lb, ok := ep.Backend.(*endpoint.LoopBackend); ok {
		f.mu.Lock()
		delete(f.loopEP, lb.Entry().Name)
		f.mu.Unlock()
	}
	return f.endpoints.Close(desc)
}

// Bind joins two endpoint descriptors with a fresh peer channel.
func (f *Fabric) Bind(a, b int) error {
	if err := f.endpoints.Bind(a, b, RingCapacity); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"a": a, "b": b}).Warn("epfabric: bind failed")
		return err
	}
	return nil
}

// Unbind tears down the peer channel joining desc to its current
// partner, if any. Idempotent.
func (f *Fabric) Unbind(desc int) error {
	ep, ok := f.endpoints.Find(desc)
	if !ok {
		return nil
	}
	return f.endpoints.Unbind(desc, ep.PartnerID())
}

// ---- Client-session family (connect/send/setcb) ----

// Connect dials the ipc:// or inet:// endpoint named by rawURI and
// returns a client-session context id. Any other scheme is rejected
// (spec.md invariant 7).
func (f *Fabric) Connect(rawURI string) (int, error) {
	parsed, err := uri.Parse(rawURI)
	if err != nil {
		return -1, err
	}
	if !uri.ConnectableKind(parsed.Kind) {
		return -1, errcode.New(errcode.InvalidArgument, "epfabric.Connect", "connect accepts only ipc:// and inet://", nil)
	}
	network := "unix"
	path := parsed.Path
	if parsed.Kind == endpoint.INET {
		network = "tcp"
		path = withDefaultPort(path)
	}
	ctx, err := f.sessions.Connect(network, path)
	if err != nil {
		log.WithError(err).WithField("uri", rawURI).Warn("epfabric: connect failed")
	}
	return ctx, err
}

// Send frames payload and writes it to ctx's connection.
func (f *Fabric) Send(ctx int, payload []byte) error { return f.sessions.Send(ctx, payload) }

// EvSend frames buf's contents and writes them to ctx's connection,
// then resets buf — the zero-copy-handoff counterpart of Send for
// callers already holding a reusable buffer.
func (f *Fabric) EvSend(ctx int, buf *bytes.Buffer) error {
	err := f.sessions.Send(ctx, buf.Bytes())
	buf.Reset()
	return err
}

// SetCB installs ctx's read and error callbacks.
func (f *Fabric) SetCB(ctx int, readCB session.ReadCallback, errCB session.ErrCallback, arg any, flags session.Flags) error {
	return f.sessions.SetCB(ctx, readCB, errCB, arg, flags)
}

// GPIOSend, SPISend, I2CSend, and SysfsSend pre-format the kind-
// specific request payload and send it over ctx.
func (f *Fabric) GPIOSend(ctx int, value byte) error { return f.sessions.GPIOSend(ctx, value) }
func (f *Fabric) SPISend(ctx int, tx []byte, read bool) error {
	return f.sessions.SPISend(ctx, tx, read)
}
func (f *Fabric) I2CSend(ctx int, addr uint16, write []byte, rlen uint16) error {
	return f.sessions.I2CSend(ctx, addr, write, rlen)
}
func (f *Fabric) SysfsSend(ctx int, attr, value string, write bool) error {
	return f.sessions.SysfsSend(ctx, attr, value, write)
}

// CloseSession closes client-session ctx.
func (f *Fabric) CloseSession(ctx int) error { return f.sessions.Close(ctx) }

// ---- Switch & ports (C8) ----

// SwitchCreate creates an empty switch and returns its descriptor.
func (f *Fabric) SwitchCreate() (int, error) {
	sw := switchboard.New(f.endpoints)
	f.mu.Lock()
	id, err := f.switches.Alloc(sw)
	f.mu.Unlock()
	return id, err
}

// SwitchDestroy releases switchID. It fails with Conflict if the
// switch still owns ports (spec.md's "destroyed when no ports remain"
// lifecycle rule).
func (f *Fabric) SwitchDestroy(switchID int) error {
	f.mu.Lock()
	sw, ok := f.switches.Get(switchID)
	if !ok {
		f.mu.Unlock()
		return errcode.New(errcode.NotFound, "epfabric.SwitchDestroy", "", nil)
	}
	if sw.PortCount() > 0 {
		f.mu.Unlock()
		return errcode.New(errcode.Conflict, "epfabric.SwitchDestroy", "switch still owns ports", nil)
	}
	f.switches.Del(switchID)
	f.mu.Unlock()
	return nil
}

func (f *Fabric) findSwitch(switchID int) (*switchboard.Switch, error) {
	f.mu.Lock()
	sw, ok := f.switches.Get(switchID)
	f.mu.Unlock()
	if !ok {
		return nil, errcode.New(errcode.NotFound, "epfabric.switch", "", nil)
	}
	return sw, nil
}

// Port creates a named PORT-kind endpoint owned by switchID.
func (f *Fabric) Port(switchID int, name string) (int, error) {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return -1, err
	}
	id, err := sw.Port(name)
	if err != nil {
		return -1, err
	}
	f.mu.Lock()
	f.portOwner[id] = sw
	f.mu.Unlock()
	return id, nil
}

// SwitchSetCB installs switchID's switch-wide on-data hook.
func (f *Fabric) SwitchSetCB(switchID int, hook switchboard.Hook) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	sw.SetHook(hook)
	return nil
}

// PortSetCB installs a per-port on-data hook overriding the switch-
// wide hook for name's traffic only.
func (f *Fabric) PortSetCB(switchID int, name string, hook switchboard.PortHook) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.SetPortHook(name, hook)
}

// Xfer injects payload into the named port from in-process code.
func (f *Fabric) Xfer(switchID int, name string, payload []byte) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.Xfer(name, payload)
}

// EvXfer is Xfer taking ownership of (and resetting) buf.
func (f *Fabric) EvXfer(switchID int, name string, buf *bytes.Buffer) error {
	err := f.Xfer(switchID, name, buf.Bytes())
	buf.Reset()
	return err
}

func (f *Fabric) GPIOXfer(switchID int, name string, value byte) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.GPIOXfer(name, value)
}

func (f *Fabric) SPIXfer(switchID int, name string, tx []byte, read bool) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.SPIXfer(name, tx, read)
}

func (f *Fabric) I2CXfer(switchID int, name string, addr uint16, write []byte, rlen uint16) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.I2CXfer(name, addr, write, rlen)
}

func (f *Fabric) SysfsXfer(switchID int, name string, attr, value string, write bool) error {
	sw, err := f.findSwitch(switchID)
	if err != nil {
		return err
	}
	return sw.SysfsXfer(name, attr, value, write)
}

// ---- Loopback endpoint (C9) ----

// LoopbackXfer injects payload into the named loopback entry from
// in-process code: it flows out toward the entry's bound peer if a
// LOOP endpoint of that name is open and bound, else it falls back to
// the loopback registry's direct in-process delivery (a pure
// producer/consumer pairing with no endpoint or socket involved at
// all).
func (f *Fabric) LoopbackXfer(name string, payload []byte) error {
	f.mu.Lock()
	id, hasEP := f.loopEP[name]
	f.mu.Unlock()
	if hasEP {
		if ep, ok := f.endpoints.Find(id); ok {
			if lb, ok := ep.Backend.(*endpoint.LoopBackend); ok && lb.Emit(payload) {
				return nil
			}
		}
	}
	return f.loopback.Xfer(name, payload)
}

// LoopbackEvXfer is LoopbackXfer taking ownership of (and resetting) buf.
func (f *Fabric) LoopbackEvXfer(name string, buf *bytes.Buffer) error {
	err := f.LoopbackXfer(name, buf.Bytes())
	buf.Reset()
	return err
}

// LoopbackSetCB installs the callback invoked when data arrives at the
// named loopback entry from its bound peer (spec.md §4.8's xfer_setcb).
func (f *Fabric) LoopbackSetCB(name string, cb func(name string, payload []byte)) {
	entry := f.loopback.Open(name)
	if cb == nil {
		entry.SetCallback(nil)
		return
	}
	entry.SetCallback(func(p []byte) { cb(name, p) })
}

func (f *Fabric) LoopbackGPIOXfer(name string, value byte) error {
	return f.LoopbackXfer(name, payload.GPIOOut(value))
}

func (f *Fabric) LoopbackSPIXfer(name string, tx []byte, read bool) error {
	return f.LoopbackXfer(name, payload.SPI(tx, read))
}

func (f *Fabric) LoopbackI2CXfer(name string, addr uint16, write []byte, rlen uint16) error {
	return f.LoopbackXfer(name, payload.I2C(addr, write, rlen))
}

func (f *Fabric) LoopbackSysfsXfer(name, attr, value string, write bool) error {
	return f.LoopbackXfer(name, payload.Sysfs(attr, value, write))
}

// ---- Process-wide singleton (spec.md's "global/thread-local loop") ----

var (
	globalMu sync.Mutex
	global   *Fabric
)

// Init establishes the process-wide Fabric if one doesn't already
// exist, returning the existing instance otherwise (spec.md §4.1's
// "first init stores it" rule).
func Init() (*Fabric, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}
	f, err := New()
	if err != nil {
		return nil, err
	}
	global = f
	return f, nil
}

// Shutdown releases the process-wide Fabric. It is a no-op if Init was
// never called.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil
	}
	err := global.Close()
	global = nil
	return err
}

// Reinit refreshes the process-wide Fabric's reactor fds, for use
// after fork. It fails with NotFound if Init was never called.
func Reinit() error {
	globalMu.Lock()
	f := global
	globalMu.Unlock()
	if f == nil {
		return errcode.New(errcode.NotFound, "epfabric.Reinit", "not initialized", nil)
	}
	return f.Reinit()
}

// Current returns the process-wide Fabric, or nil if Init hasn't run.
func Current() *Fabric {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}
