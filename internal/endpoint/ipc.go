package endpoint

import (
	"net"
	"sync"

	"epfabric/errcode"
	"epfabric/internal/frame"
)

// IPCBackend is a Unix-domain endpoint: spec.md's ipc:// scheme,
// supporting both a plain filesystem path and Linux's abstract
// namespace (a leading '@', which Go's "unix" network already maps to
// an abstract address with no filesystem entry — the Go equivalent of
// connect.c's '@'->NUL substitution).
//
// Opening an IPC endpoint listens; at most one connection is live at a
// time. A connection that arrives while a client is connected is
// accepted and closed at once; it is not queued. When the current
// client disconnects, Read notices the error, clears the stale
// connection, re-arms ready, and blocks on it again until acceptLoop
// hands over the next client that connects — the listener re-arms
// rather than being torn down.
type IPCBackend struct {
	ln net.Listener

	mu     sync.Mutex
	conn   net.Conn
	ready  chan struct{} // closed once a peer is connected; replaced on disconnect
	closed bool
	ep     *Endpoint
}

// NewIPCBackend constructs an unopened IPC backend.
func NewIPCBackend() *IPCBackend { return &IPCBackend{ready: make(chan struct{})} }

func (b *IPCBackend) SetEndpoint(ep *Endpoint) { b.ep = ep }
func (b *IPCBackend) Kind() Kind               { return IPC }

func (b *IPCBackend) Open(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return errcode.New(errcode.Io, "ipc.Open", path, err)
	}
	b.ln = ln
	go b.acceptLoop()
	return nil
}

func (b *IPCBackend) acceptLoop() {
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
			conn.Close() // already have a peer; reject extras until it disconnects
			continue
		}
		b.conn = conn
		close(b.ready)
		b.mu.Unlock()
	}
}

// Read blocks until a peer is connected, then reads from it. When the
// current peer disconnects or errors, Read clears it, re-arms ready,
// and waits again instead of returning a terminal error, so one IPC
// endpoint can serve many successive clients across its lifetime.
func (b *IPCBackend) Read(p []byte) (int, error) {
	for {
		b.mu.Lock()
		c, ready, closed := b.conn, b.ready, b.closed
		b.mu.Unlock()

		if closed {
			return 0, errcode.New(errcode.Io, "ipc.Read", "closed", nil)
		}
		if c == nil {
			<-ready
			b.mu.Lock()
			c, closed = b.conn, b.closed
			b.mu.Unlock()
			if closed {
				return 0, errcode.New(errcode.Io, "ipc.Read", "closed before connect", nil)
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

func (b *IPCBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return 0, errcode.New(errcode.Io, "ipc.Write", "not connected", nil)
	}
	return c.Write(p)
}

// OnData re-frames a payload relayed from the bound peer and writes it
// out to the connected socket.
func (b *IPCBackend) OnData(payload []byte) error {
	return frame.WriteFrame(endpointWriter{b}, payload)
}

func (b *IPCBackend) Close() error {
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

// endpointWriter adapts a Streamer's Write to io.Writer for frame.WriteFrame.
type endpointWriter struct{ s Streamer }

func (w endpointWriter) Write(p []byte) (int, error) { return w.s.Write(p) }
