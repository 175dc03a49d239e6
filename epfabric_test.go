package epfabric

import (
	"path/filepath"
	"testing"
	"time"
)

func newFabric(t *testing.T) *Fabric {
	t.Helper()
	f, err := New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// openIPC opens an IPC endpoint backed by a fresh temp-dir socket path
// and returns both its descriptor and the uri a client Connects with.
func openIPC(t *testing.T, f *Fabric, name string) (desc int, uri string) {
	t.Helper()
	uri = "ipc://" + filepath.Join(t.TempDir(), name)
	desc, err := f.Open(uri)
	if err != nil {
		t.Fatal(err)
	}
	return desc, uri
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectSilence(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %q", got)
	case <-time.After(150 * time.Millisecond):
	}
}

// TestHelloRelay reproduces spec.md §8 scenario 1: two bound IPC
// endpoints relay one payload from A's client to B's client.
func TestHelloRelay(t *testing.T) {
	f := newFabric(t)

	a, uriA := openIPC(t, f, "a")
	b, uriB := openIPC(t, f, "b")
	if err := f.Bind(a, b); err != nil {
		t.Fatal(err)
	}

	clientA, err := f.Connect(uriA)
	if err != nil {
		t.Fatal(err)
	}
	clientB, err := f.Connect(uriB)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 1)
	if err := f.SetCB(clientB, func(_ int, p []byte, _ any) { got <- string(p) }, nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.Send(clientA, []byte("foo")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, got, "foo")
}

// TestBroadcastDefault reproduces spec.md §8 scenario 2: a switch with
// ports p1/p2/p3, each bound to its own IPC endpoint. p1's client sends
// once; p2 and p3's clients each receive it exactly once, p1's does not.
func TestBroadcastDefault(t *testing.T) {
	f := newFabric(t)

	sw, err := f.SwitchCreate()
	if err != nil {
		t.Fatal(err)
	}

	clients := map[string]int{}
	for _, name := range []string{"p1", "p2", "p3"} {
		port, err := f.Port(sw, name)
		if err != nil {
			t.Fatal(err)
		}
		ep, uri := openIPC(t, f, name)
		if err := f.Bind(port, ep); err != nil {
			t.Fatal(err)
		}
		client, err := f.Connect(uri)
		if err != nil {
			t.Fatal(err)
		}
		clients[name] = client
	}

	gotP1 := make(chan string, 1)
	gotP2 := make(chan string, 1)
	gotP3 := make(chan string, 1)
	f.SetCB(clients["p1"], func(_ int, p []byte, _ any) { gotP1 <- string(p) }, nil, nil, 0)
	f.SetCB(clients["p2"], func(_ int, p []byte, _ any) { gotP2 <- string(p) }, nil, nil, 0)
	f.SetCB(clients["p3"], func(_ int, p []byte, _ any) { gotP3 <- string(p) }, nil, nil, 0)

	if err := f.Send(clients["p1"], []byte("hi")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, gotP2, "hi")
	waitFor(t, gotP3, "hi")
	expectSilence(t, gotP1)
}

// TestPerPortHookSuppressesBroadcast reproduces spec.md §8 scenario 3:
// a per-port hook on p1 uppercases input and relays it to p2 and p3
// explicitly, suppressing the default broadcast (so p1 sees nothing).
func TestPerPortHookSuppressesBroadcast(t *testing.T) {
	f := newFabric(t)

	sw, err := f.SwitchCreate()
	if err != nil {
		t.Fatal(err)
	}

	clients := map[string]int{}
	for _, name := range []string{"p1", "p2", "p3"} {
		port, err := f.Port(sw, name)
		if err != nil {
			t.Fatal(err)
		}
		ep, uri := openIPC(t, f, name)
		if err := f.Bind(port, ep); err != nil {
			t.Fatal(err)
		}
		client, err := f.Connect(uri)
		if err != nil {
			t.Fatal(err)
		}
		clients[name] = client
	}

	if err := f.PortSetCB(sw, "p1", func(payload []byte) {
		upper := make([]byte, len(payload))
		for i, b := range payload {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			upper[i] = b
		}
		f.Xfer(sw, "p2", upper)
		f.Xfer(sw, "p3", upper)
	}); err != nil {
		t.Fatal(err)
	}

	gotP1 := make(chan string, 1)
	gotP2 := make(chan string, 1)
	gotP3 := make(chan string, 1)
	f.SetCB(clients["p1"], func(_ int, p []byte, _ any) { gotP1 <- string(p) }, nil, nil, 0)
	f.SetCB(clients["p2"], func(_ int, p []byte, _ any) { gotP2 <- string(p) }, nil, nil, 0)
	f.SetCB(clients["p3"], func(_ int, p []byte, _ any) { gotP3 <- string(p) }, nil, nil, 0)

	if err := f.Send(clients["p1"], []byte("hello")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, gotP2, "HELLO")
	waitFor(t, gotP3, "HELLO")
	expectSilence(t, gotP1)
}

// TestLoopback reproduces spec.md §8 scenario 6: a loopback "lo" bound
// to an IPC endpoint. An in-process xfer toward "lo" reaches the
// bound client; the client sending back reaches the loopback's
// registered callback.
func TestLoopback(t *testing.T) {
	f := newFabric(t)

	loop, err := f.Open("lo")
	if err != nil {
		t.Fatal(err)
	}
	ep, uri := openIPC(t, f, "lo-ipc")
	if err := f.Bind(loop, ep); err != nil {
		t.Fatal(err)
	}

	fromLoop := make(chan string, 1)
	f.LoopbackSetCB("lo", func(_ string, p []byte) { fromLoop <- string(p) })

	client, err := f.Connect(uri)
	if err != nil {
		t.Fatal(err)
	}
	gotPing := make(chan string, 1)
	f.SetCB(client, func(_ int, p []byte, _ any) { gotPing <- string(p) }, nil, nil, 0)

	if err := f.LoopbackXfer("lo", []byte("ping")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, gotPing, "ping")

	if err := f.Send(client, []byte("pong")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fromLoop, "pong")
}

// TestLoopbackXferWithoutEndpoint exercises the pure in-process
// producer/consumer pairing: xfer_setcb on a name that no LOOP
// endpoint was ever opened for still delivers, straight through
// internal/loopback.
func TestLoopbackXferWithoutEndpoint(t *testing.T) {
	f := newFabric(t)

	got := make(chan string, 1)
	f.LoopbackSetCB("direct", func(_ string, p []byte) { got <- string(p) })
	if err := f.LoopbackXfer("direct", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, got, "hi")
}

// TestSwitchDestroyRequiresEmptyPorts exercises the lifecycle rule that
// a switch is destroyed only once it owns no ports.
func TestSwitchDestroyRequiresEmptyPorts(t *testing.T) {
	f := newFabric(t)

	sw, err := f.SwitchCreate()
	if err != nil {
		t.Fatal(err)
	}
	port, err := f.Port(sw, "only")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.SwitchDestroy(sw); err == nil {
		t.Fatal("expected SwitchDestroy to fail while a port remains")
	}
	if err := f.Close(port); err != nil {
		t.Fatal(err)
	}
	if err := f.SwitchDestroy(sw); err != nil {
		t.Fatalf("SwitchDestroy after last port closed: %v", err)
	}
}

// TestInitReturnsSameInstance exercises the "first init call owns it"
// process-wide singleton rule.
func TestInitReturnsSameInstance(t *testing.T) {
	t.Cleanup(func() { Shutdown() })

	first, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	second, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("Init should return the same Fabric on repeat calls")
	}
	if Current() != first {
		t.Fatal("Current should return the initialized Fabric")
	}
	if err := Shutdown(); err != nil {
		t.Fatal(err)
	}
	if Current() != nil {
		t.Fatal("Current should be nil after Shutdown")
	}
}
