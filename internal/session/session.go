// Package session implements the connecting side of an IPC/INET
// client session (C7): dialing ipc:// or inet:// endpoints, framing
// sent payloads, and delivering received frames and terminal errors to
// user-installed callbacks. It is the Go counterpart of the original
// library's connect.c.
package session

import (
	"net"
	"strings"
	"sync"

	"epfabric/errcode"
	"epfabric/internal/dtable"
	"epfabric/internal/frame"
	"epfabric/internal/payload"
)

// Flags configure a session's terminal-error behavior.
type Flags uint8

// NoExitOnError suppresses the reactor-break side effect spec.md §4.9's
// state machine otherwise attaches to every terminal session error.
const NoExitOnError Flags = 1 << 0

// ReadCallback receives one complete frame payload read from ctx's
// connection.
type ReadCallback func(ctx int, payload []byte, arg any)

// ErrCallback receives the terminal event bitmask for ctx. events is
// currently either EventEOF or EventError; it exists so callers can
// distinguish an orderly remote close from a local socket failure
// without a second callback parameter.
type ErrCallback func(ctx int, events uint32, arg any)

const (
	EventEOF uint32 = 1 << iota
	EventError
)

// State is a client session's position in spec.md §4.9's state
// machine: Connecting -> Connected -> Closed.
type State int

const (
	Connecting State = iota
	Connected
	Closed
)

// DefaultCapacity is spec.md's recommended client-session table size.
const DefaultCapacity = 256

// Session is one connect()'d client context.
type Session struct {
	ID   int
	conn net.Conn

	mu      sync.Mutex
	state   State
	readCB  ReadCallback
	errCB   ErrCallback
	arg     any
	flags   Flags
	readBuf []byte
}

// Manager owns the session id table and the process-wide "break the
// reactor loop on a terminal session error" policy (spec.md §7, the
// NoExitOnError open question resolved as "break unless set").
type Manager struct {
	mu      sync.Mutex
	table   *dtable.Table[*Session]
	onExit  func() // invoked when a terminal error should break the loop
}

// NewManager builds a session table of spec.md's recommended capacity.
// onExit is called once per terminal error that isn't suppressed by
// NoExitOnError; pass nil if the embedding program has no loop to break.
func NewManager(onExit func()) *Manager {
	if onExit == nil {
		onExit = func() {}
	}
	return &Manager{table: dtable.New[*Session](DefaultCapacity), onExit: onExit}
}

// Connect dials network/address, registers a new session in
// Connecting state that immediately transitions to Connected on a
// successful dial (there is no asynchronous connect phase over
// net.Dial), and starts the frame-read goroutine.
//
// network must be "unix" or "tcp" — connect() accepts only ipc:// and
// inet:// URIs, matching spec.md invariant 7; callers translate the
// URI scheme before calling Connect.
func (m *Manager) Connect(network, address string) (int, error) {
	if network != "unix" && network != "tcp" {
		return -1, errcode.New(errcode.InvalidArgument, "session.Connect", "scheme must be ipc or inet", nil)
	}
	conn, err := net.Dial(network, address)
	if err != nil {
		return -1, errcode.New(errcode.Io, "session.Connect", address, err)
	}

	s := &Session{conn: conn, state: Connecting}
	m.mu.Lock()
	id, err := m.table.Alloc(s)
	m.mu.Unlock()
	if err != nil {
		conn.Close()
		return -1, err
	}
	s.ID = id
	s.state = Connected

	go m.readLoop(s)
	return id, nil
}

// SetCB installs the read and error callbacks (and their shared arg,
// and behavior flags) for ctx. Either callback may be nil.
func (m *Manager) SetCB(ctx int, readCB ReadCallback, errCB ErrCallback, arg any, flags Flags) error {
	s, err := m.find(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.readCB, s.errCB, s.arg, s.flags = readCB, errCB, arg, flags
	s.mu.Unlock()
	return nil
}

// Send frames data and writes it to ctx's connection.
func (m *Manager) Send(ctx int, data []byte) error {
	s, err := m.find(ctx)
	if err != nil {
		return err
	}
	if err := frame.WriteFrame(s.conn, data); err != nil {
		m.fail(s, EventError)
		return err
	}
	return nil
}

// GPIOSend, SPISend, I2CSend, and SysfsSend pre-format the kind-
// specific request payload (spec.md §4.5) and send it, the typed
// helper family §4.9 calls for.
func (m *Manager) GPIOSend(ctx int, value byte) error {
	return m.Send(ctx, payload.GPIOOut(value))
}

func (m *Manager) SPISend(ctx int, tx []byte, read bool) error {
	return m.Send(ctx, payload.SPI(tx, read))
}

func (m *Manager) I2CSend(ctx int, addr uint16, write []byte, rlen uint16) error {
	return m.Send(ctx, payload.I2C(addr, write, rlen))
}

func (m *Manager) SysfsSend(ctx int, attr, value string, write bool) error {
	return m.Send(ctx, payload.Sysfs(attr, value, write))
}

// Close tears down ctx's connection and frees its id. Idempotent:
// closing an unknown or already-closed ctx is a silent no-op.
func (m *Manager) Close(ctx int) error {
	m.mu.Lock()
	s, ok := m.table.Get(ctx)
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.table.Del(ctx)
	m.mu.Unlock()

	s.mu.Lock()
	alreadyClosed := s.state == Closed
	s.state = Closed
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return s.conn.Close()
}

func (m *Manager) find(ctx int) (*Session, error) {
	m.mu.Lock()
	s, ok := m.table.Get(ctx)
	m.mu.Unlock()
	if !ok {
		return nil, errcode.New(errcode.NotFound, "session", "", nil)
	}
	return s, nil
}

// readLoop frame-drains s's connection until EOF or an error, invoking
// the installed read callback for each complete frame and the error
// callback (then freeing the session and, unless NoExitOnError is
// set, breaking the loop) on the terminal condition.
func (m *Manager) readLoop(s *Session) {
	tmp := make([]byte, 4096)
	for {
		n, err := s.conn.Read(tmp)
		if err != nil {
			ev := EventError
			if strings.Contains(err.Error(), "EOF") || isEOF(err) {
				ev = EventEOF
			}
			m.fail(s, ev)
			return
		}
		s.mu.Lock()
		s.readBuf = append(s.readBuf, tmp[:n]...)
		for {
			p, consumed, ok := frame.Drain(s.readBuf)
			if !ok {
				break
			}
			s.readBuf = s.readBuf[consumed:]
			cb, arg := s.readCB, s.arg
			s.mu.Unlock()
			if cb != nil {
				cb(s.ID, p, arg)
			}
			s.mu.Lock()
		}
		s.mu.Unlock()
	}
}

func isEOF(err error) bool {
	return err.Error() == "EOF"
}

// fail transitions s to Closed, invokes its error callback (if any),
// frees its id, and — unless the session carries NoExitOnError — asks
// the Manager's onExit hook to break the reactor loop, matching
// spec.md §4.9/§7's default.
func (m *Manager) fail(s *Session, events uint32) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	cb, arg, flags := s.errCB, s.arg, s.flags
	s.mu.Unlock()

	s.conn.Close()
	m.mu.Lock()
	m.table.Del(s.ID)
	m.mu.Unlock()

	if cb != nil {
		cb(s.ID, events, arg)
	}
	if flags&NoExitOnError == 0 {
		m.onExit()
	}
}
