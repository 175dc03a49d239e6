package endpoint

import (
	"net"
	"sync"

	"epfabric/errcode"
	"epfabric/internal/frame"
)

// DefaultInetPort is spec.md §6's default TCP port for inet:// URIs
// that omit one.
const DefaultInetPort = "9110"

// INETBackend is a TCP endpoint: spec.md's inet:// scheme, implemented
// as an IPC extension exactly as the original treats it (INET shares
// IPC's compatibility mask). Its accept/re-arm behavior mirrors
// IPCBackend's: at most one connection is live at a time, and a
// disconnect re-arms the listener for the next client instead of
// tearing the endpoint down.
type INETBackend struct {
	ln net.Listener

	mu     sync.Mutex
	conn   net.Conn
	ready  chan struct{} // closed once a peer is connected; replaced on disconnect
	closed bool
}

func NewINETBackend() *INETBackend { return &INETBackend{ready: make(chan struct{})} }

func (b *INETBackend) Kind() Kind { return INET }

func (b *INETBackend) Open(hostport string) error {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return errcode.New(errcode.Io, "inet.Open", hostport, err)
	}
	b.ln = ln
	go b.acceptLoop()
	return nil
}

func (b *INETBackend) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		if b.conn != nil {
			b.mu.Unlock()
			conn.Close()
			continue
		}
		b.conn = conn
		close(b.ready)
		b.mu.Unlock()
	}
}

// Read blocks until a peer is connected, then reads from it. When the
// current peer disconnects or errors, Read clears it, re-arms ready,
// and waits again instead of returning a terminal error, so one INET
// endpoint can serve many successive clients across its lifetime.
func (b *INETBackend) Read(p []byte) (int, error) {
	for {
		b.mu.Lock()
		c, ready, closed := b.conn, b.ready, b.closed
		b.mu.Unlock()

		if closed {
			return 0, errcode.New(errcode.Io, "inet.Read", "closed", nil)
		}
		if c == nil {
			<-ready
			b.mu.Lock()
			c, closed = b.conn, b.closed
			b.mu.Unlock()
			if closed {
				return 0, errcode.New(errcode.Io, "inet.Read", "closed before connect", nil)
			}
		}

		n, err := c.Read(p)
		if err == nil {
			return n, nil
		}
		b.mu.Lock()
		if b.conn == c {
			b.conn = nil
			b.ready = make(chan struct{}) // re-arm: wait for the next client
		}
		b.mu.Unlock()
		c.Close()
		if n > 0 {
			return n, nil
		}
		// loop back around and wait on the freshly armed ready channel
	}
}

func (b *INETBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return 0, errcode.New(errcode.Io, "inet.Write", "not connected", nil)
	}
	return c.Write(p)
}

func (b *INETBackend) OnData(payload []byte) error {
	return frame.WriteFrame(endpointWriter{b}, payload)
}

func (b *INETBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
	c := b.conn
	b.conn = nil
	b.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if b.ln != nil {
		return b.ln.Close()
	}
	return nil
}
