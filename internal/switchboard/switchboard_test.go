package switchboard

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"epfabric/internal/endpoint"
	"epfabric/internal/frame"
)

// streamPeer stands in for a connected IPC client: it relays frames
// to/from a net.Pipe conn exactly the way IPCBackend relays to a real
// Unix socket, so binding one to a switch port exercises the same
// relay path a real client connection would.
type streamPeer struct{ conn net.Conn }

func (s *streamPeer) Open(string) error          { return nil }
func (s *streamPeer) Close() error                { return s.conn.Close() }
func (s *streamPeer) Kind() endpoint.Kind         { return endpoint.IPC }
func (s *streamPeer) OnData(p []byte) error       { return frame.WriteFrame(s.conn, p) }
func (s *streamPeer) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *streamPeer) Write(p []byte) (int, error) { return s.conn.Write(p) }

func attachClient(t *testing.T, reg *endpoint.Registry, portID int) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	ep, err := reg.Register(endpoint.IPC, &streamPeer{conn: server})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Bind(ep.ID, portID, 4096); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return client
}

func sendFrame(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	if err := frame.WriteFrame(conn, []byte(payload)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf []byte
	tmp := make([]byte, 256)
	for {
		if payload, _, ok := frame.Drain(buf); ok {
			return string(payload)
		}
		n, err := conn.Read(tmp)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

func expectNoFrame(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatal("expected no frame, got one")
	}
}

func TestDefaultBroadcast(t *testing.T) {
	reg := endpoint.NewRegistry(32)
	sw := New(reg)
	p1, err := sw.Port("p1")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := sw.Port("p2")
	if err != nil {
		t.Fatal(err)
	}
	p3, err := sw.Port("p3")
	if err != nil {
		t.Fatal(err)
	}
	c1 := attachClient(t, reg, p1)
	c2 := attachClient(t, reg, p2)
	c3 := attachClient(t, reg, p3)

	sendFrame(t, c1, "hi")

	if got := readFrame(t, c2); got != "hi" {
		t.Fatalf("p2 got %q, want hi", got)
	}
	if got := readFrame(t, c3); got != "hi" {
		t.Fatalf("p3 got %q, want hi", got)
	}
	expectNoFrame(t, c1)
}

func TestPerPortHookSuppressesBroadcast(t *testing.T) {
	reg := endpoint.NewRegistry(32)
	sw := New(reg)
	p1, _ := sw.Port("p1")
	p2, _ := sw.Port("p2")
	p3, _ := sw.Port("p3")
	c1 := attachClient(t, reg, p1)
	c2 := attachClient(t, reg, p2)
	c3 := attachClient(t, reg, p3)

	if err := sw.SetPortHook("p1", func(payload []byte) {
		upper := strings.ToUpper(string(payload))
		sw.Xfer("p2", []byte(upper))
		sw.Xfer("p3", []byte(upper))
	}); err != nil {
		t.Fatal(err)
	}

	sendFrame(t, c1, "hello")

	if got := readFrame(t, c2); got != "HELLO" {
		t.Fatalf("p2 got %q, want HELLO", got)
	}
	if got := readFrame(t, c3); got != "HELLO" {
		t.Fatalf("p3 got %q, want HELLO", got)
	}
	expectNoFrame(t, c1)
}

func TestSwitchWideHook(t *testing.T) {
	reg := endpoint.NewRegistry(32)
	sw := New(reg)
	p1, _ := sw.Port("p1")
	p2, _ := sw.Port("p2")
	c1 := attachClient(t, reg, p1)
	c2 := attachClient(t, reg, p2)

	var gotName string
	var gotPayload []byte
	done := make(chan struct{})
	sw.SetHook(func(name string, payload []byte) {
		gotName, gotPayload = name, payload
		close(done)
	})

	sendFrame(t, c1, "tick")
	<-done
	if gotName != "p1" || !bytes.Equal(gotPayload, []byte("tick")) {
		t.Fatalf("hook got (%q, %q)", gotName, gotPayload)
	}
	expectNoFrame(t, c2) // hook ran instead of the default broadcast
}

func TestPortNameValidation(t *testing.T) {
	reg := endpoint.NewRegistry(4)
	sw := New(reg)
	if _, err := sw.Port(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := sw.Port("this-name-is-too-long-for-a-port"); err == nil {
		t.Fatal("expected error for oversized name")
	}
	if _, err := sw.Port("dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := sw.Port("dup"); err == nil {
		t.Fatal("expected Conflict for duplicate name")
	}
}

func TestClosePortRemovesFromSwitch(t *testing.T) {
	reg := endpoint.NewRegistry(4)
	sw := New(reg)
	if _, err := sw.Port("p1"); err != nil {
		t.Fatal(err)
	}
	if err := sw.ClosePort("p1"); err != nil {
		t.Fatal(err)
	}
	if err := sw.ClosePort("p1"); err == nil {
		t.Fatal("expected NotFound for closing an already-closed port")
	}
	if _, err := sw.Port("p1"); err != nil {
		t.Fatalf("expected to be able to reuse freed name, got %v", err)
	}
}
